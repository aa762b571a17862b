// Package ocr supplies document pages to the pipeline. Sources run as a
// producer goroutine feeding a page channel; the consumer drains it and
// cancelling the context stops the producer.
package ocr

import (
	"context"
	"errors"
)

// ErrNoPages is returned when a document yields nothing to read.
var ErrNoPages = errors.New("ocr: document has no pages")

// Page is one transcribed page. Number is 1-based.
type Page struct {
	Number int
	Text   string
}

// Source streams the pages of one document in order. The error channel
// carries at most one error and is closed after the page channel.
type Source interface {
	Stream(ctx context.Context, doc string) (<-chan Page, <-chan error)
}

// produce runs fn in a goroutine and wires up both channels. fn must stop
// when emit returns false.
func produce(ctx context.Context, fn func(emit func(Page) bool) error) (<-chan Page, <-chan error) {
	pages := make(chan Page)
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		defer close(pages)
		emit := func(p Page) bool {
			select {
			case pages <- p:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if err := fn(emit); err != nil {
			errc <- err
			return
		}
		if err := ctx.Err(); err != nil {
			errc <- err
		}
	}()
	return pages, errc
}

// Pages is an in-memory source, used when the caller already holds the text.
type Pages []Page

func (p Pages) Stream(ctx context.Context, _ string) (<-chan Page, <-chan error) {
	return produce(ctx, func(emit func(Page) bool) error {
		for _, pg := range p {
			if !emit(pg) {
				return nil
			}
		}
		return nil
	})
}

// Collect drains a source into a slice.
func Collect(ctx context.Context, src Source, doc string) ([]Page, error) {
	pages, errc := src.Stream(ctx, doc)
	var out []Page
	for p := range pages {
		out = append(out, p)
	}
	if err := <-errc; err != nil {
		return out, err
	}
	return out, nil
}
