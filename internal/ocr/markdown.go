package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var rePageFile = regexp.MustCompile(`^(.+)_page_(\d+)\.md$`)

// DocumentName returns the document a markdown file belongs to: the base
// before _page_<N>, or the file name without extension.
func DocumentName(filename string) string {
	name := filepath.Base(filename)
	if sm := rePageFile.FindStringSubmatch(name); sm != nil {
		return sm[1]
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// MarkdownDir reads pre-transcribed pages named <base>_page_<N>.md. A
// markdown file without the page suffix is a one-page document.
type MarkdownDir struct {
	Dir    string
	logger *slog.Logger
}

func NewMarkdownDir(dir string, logger *slog.Logger) *MarkdownDir {
	if logger == nil {
		logger = slog.Default()
	}
	return &MarkdownDir{Dir: dir, logger: logger}
}

type pageFile struct {
	number int
	path   string
}

func (m *MarkdownDir) scan() (map[string][]pageFile, error) {
	entries, err := os.ReadDir(m.Dir)
	if err != nil {
		return nil, fmt.Errorf("read markdown dir: %w", err)
	}
	docs := map[string][]pageFile{}
	bare := map[string]string{}
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".md") {
			continue
		}
		path := filepath.Join(m.Dir, e.Name())
		if sm := rePageFile.FindStringSubmatch(e.Name()); sm != nil {
			n, _ := strconv.Atoi(sm[2])
			docs[sm[1]] = append(docs[sm[1]], pageFile{number: n, path: path})
			continue
		}
		bare[strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))] = path
	}
	// paged files win over a bare file of the same base
	for base, path := range bare {
		if _, ok := docs[base]; ok {
			m.logger.Warn("ocr.markdown.bare_shadowed", "doc", base, "path", path)
			continue
		}
		docs[base] = []pageFile{{number: 1, path: path}}
	}
	for base := range docs {
		sort.SliceStable(docs[base], func(i, j int) bool { return docs[base][i].number < docs[base][j].number })
	}
	return docs, nil
}

// Documents lists the document base names found in the directory.
func (m *MarkdownDir) Documents() ([]string, error) {
	docs, err := m.scan()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(docs))
	for name := range docs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Stream emits the pages of doc in page-number order. doc is a base name
// as returned by Documents.
func (m *MarkdownDir) Stream(ctx context.Context, doc string) (<-chan Page, <-chan error) {
	return produce(ctx, func(emit func(Page) bool) error {
		docs, err := m.scan()
		if err != nil {
			return err
		}
		files, ok := docs[doc]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNoPages, doc)
		}
		for _, f := range files {
			data, err := os.ReadFile(f.path)
			if err != nil {
				return fmt.Errorf("read page %d: %w", f.number, err)
			}
			m.logger.Debug("ocr.markdown.page", "doc", doc, "page", f.number, "bytes", len(data))
			if !emit(Page{Number: f.number, Text: Clean(string(data))}) {
				return nil
			}
		}
		return nil
	})
}

// WritePages stores pages in the layout MarkdownDir reads.
func WritePages(dir, base string, pages []Page) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, p := range pages {
		name := filepath.Join(dir, fmt.Sprintf("%s_page_%d.md", base, p.Number))
		if err := os.WriteFile(name, []byte(p.Text), 0o644); err != nil {
			return fmt.Errorf("write page %d: %w", p.Number, err)
		}
	}
	return nil
}
