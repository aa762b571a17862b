// Package export writes finished documents to disk as JSON and XLSX.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/statement-extractor/constants"
	"github.com/joseph-ayodele/statement-extractor/internal/errsys"
	"github.com/joseph-ayodele/statement-extractor/internal/pipeline"
)

// Trailing provenance columns taken from each record's metadata.
var metaHeaders = []string{"Page", "Type", "Source document"}

type sheet struct {
	name    string
	columns []string
	seen    map[string]bool
	rows    []map[string]any
}

func (s *sheet) add(obj map[string]any, keys []string) {
	for _, k := range keys {
		if k == pipeline.MetaKey || s.seen[k] {
			continue
		}
		s.seen[k] = true
		s.columns = append(s.columns, k)
	}
	s.rows = append(s.rows, obj)
}

// Workbook renders the document's successful records as an XLSX workbook
// with one sheet per record group. Columns are the union of record keys in
// first-seen order followed by the provenance columns.
func Workbook(doc *pipeline.Document) ([]byte, int, error) {
	var order []*sheet
	byName := map[string]*sheet{}
	for _, obj := range doc.Succeeded() {
		meta, _ := pipeline.MetaOf(obj)
		name := constants.SheetName(meta.Group)
		sh, ok := byName[name]
		if !ok {
			sh = &sheet{name: name, seen: map[string]bool{}}
			byName[name] = sh
			order = append(order, sh)
		}
		sh.add(obj, orderedKeys(obj))
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if len(order) == 0 {
		order = []*sheet{{name: constants.DefaultGroup}}
	}
	rows := 0
	for i, sh := range order {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sh.name); err != nil {
				return nil, 0, err
			}
		} else if _, err := f.NewSheet(sh.name); err != nil {
			return nil, 0, err
		}
		headers := append(append([]string{}, sh.columns...), metaHeaders...)
		for c, h := range headers {
			cell, _ := excelize.CoordinatesToCellName(c+1, 1)
			_ = f.SetCellValue(sh.name, cell, h)
		}
		for r, obj := range sh.rows {
			write := func(col int, v any) {
				cell, _ := excelize.CoordinatesToCellName(col, r+2)
				_ = f.SetCellValue(sh.name, cell, v)
			}
			for c, k := range sh.columns {
				write(c+1, cellValue(obj[k]))
			}
			meta, _ := pipeline.MetaOf(obj)
			base := len(sh.columns)
			write(base+1, meta.Page)
			write(base+2, meta.Type)
			write(base+3, meta.SourceDocument)
			rows++
		}
		last, _ := excelize.ColumnNumberToName(len(headers))
		_ = f.SetColWidth(sh.name, "A", last, 18)
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), rows, nil
}

// orderedKeys returns the object's keys sorted. Decoded JSON objects do
// not keep their key order, so sorting keeps columns stable across runs.
func orderedKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// cellValue flattens nested values to JSON text.
func cellValue(v any) any {
	switch t := v.(type) {
	case nil:
		return ""
	case map[string]any, []any:
		b, _ := json.Marshal(t)
		return string(b)
	}
	return v
}

// XLSXWriter writes <dir>/<doc>.xlsx. It implements pipeline.Output.
type XLSXWriter struct {
	Dir    string
	logger *slog.Logger
}

func NewXLSXWriter(dir string, logger *slog.Logger) *XLSXWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &XLSXWriter{Dir: dir, logger: logger}
}

func (w *XLSXWriter) Name() string { return "xlsx" }

func (w *XLSXWriter) FailureCode() errsys.Code { return errsys.IOWriteTabular }

func (w *XLSXWriter) Write(_ context.Context, doc *pipeline.Document) error {
	start := time.Now()
	if len(doc.Succeeded()) == 0 {
		w.logger.Debug("export.xlsx.skipped", "doc_id", doc.ID, "reason", "no records")
		return nil
	}
	data, rows, err := Workbook(doc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(w.Dir, BaseName(doc)+".xlsx")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	w.logger.Info("export.xlsx.ok",
		"doc_id", doc.ID,
		"path", path,
		"rows", rows,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
