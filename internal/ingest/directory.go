package ingest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joseph-ayodele/statement-extractor/constants"
	"github.com/joseph-ayodele/statement-extractor/internal/ocr"
	"github.com/joseph-ayodele/statement-extractor/internal/pipeline"
)

// Target is one discovered input file.
type Target struct {
	Path   string
	Format string // constants.PDF | constants.MARKDOWN
}

type DirStats struct {
	Scanned uint32
	Matched uint32
	Failed  uint32
}

// Discover walks root (or takes root itself when it is a file) and returns
// the PDF and markdown files in lexical order.
func Discover(root string, skipHidden bool) ([]Target, DirStats, error) {
	var stats DirStats
	if strings.TrimSpace(root) == "" {
		return nil, stats, errors.New("input path is required")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, stats, fmt.Errorf("stat input: %w", err)
	}
	if !info.IsDir() {
		stats.Scanned = 1
		format := constants.MapExtToFormat(filepath.Ext(root))
		if format == "" {
			return nil, stats, fmt.Errorf("unsupported input %q", root)
		}
		stats.Matched = 1
		return []Target{{Path: root, Format: format}}, stats, nil
	}

	var out []Target
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		stats.Scanned++
		if walkErr != nil {
			stats.Failed++
			return nil // continue walking
		}
		if skipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !AllowedExt(filepath.Ext(path)) {
			return nil
		}
		stats.Matched++
		out = append(out, Target{Path: path, Format: constants.MapExtToFormat(filepath.Ext(path))})
		return nil
	})
	if err != nil {
		return out, stats, fmt.Errorf("walk: %w", err)
	}
	return out, stats, nil
}

// Inputs turns targets into pipeline inputs. Each PDF is a document;
// markdown pages are grouped per directory into documents by base name.
func Inputs(targets []Target, pdf ocr.Source) []pipeline.Input {
	var out []pipeline.Input
	md := map[string]*ocr.MarkdownDir{}
	seen := map[string]bool{}
	for _, t := range targets {
		switch t.Format {
		case constants.PDF:
			out = append(out, pipeline.Input{Name: filepath.Base(t.Path), Key: t.Path, Source: pdf})
		case constants.MARKDOWN:
			dir := filepath.Dir(t.Path)
			doc := ocr.DocumentName(t.Path)
			id := filepath.Join(dir, doc)
			if seen[id] {
				continue
			}
			seen[id] = true
			src, ok := md[dir]
			if !ok {
				src = ocr.NewMarkdownDir(dir, nil)
				md[dir] = src
			}
			out = append(out, pipeline.Input{Name: doc, Key: doc, Source: src})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AllowedExt reports whether discovery picks up files with this extension.
func AllowedExt(ext string) bool {
	_, ok := constants.AllowedExtensions[constants.NormalizeExt(ext)]
	return ok
}

// IsHidden reports whether the last path element is a dot file or directory.
func IsHidden(path string) bool {
	base := filepath.Base(path)
	return base != "." && base != ".." && strings.HasPrefix(base, ".")
}
