package export

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/statement-extractor/internal/errsys"
	"github.com/joseph-ayodele/statement-extractor/internal/pipeline"
)

// BaseName is the output file stem for a document: its source name
// without directory or extension, or the document id.
func BaseName(doc *pipeline.Document) string {
	name := filepath.Base(doc.Name)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return doc.ID
	}
	return name
}

// EncodeJSON writes the result list as an indented JSON array. Failed
// slots encode as null; non-ASCII text is kept as is.
func EncodeJSON(w io.Writer, results []map[string]any) error {
	if results == nil {
		results = []map[string]any{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(results)
}

// JSONWriter writes <dir>/<doc>.json. It implements pipeline.Output.
type JSONWriter struct {
	Dir    string
	logger *slog.Logger
}

func NewJSONWriter(dir string, logger *slog.Logger) *JSONWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &JSONWriter{Dir: dir, logger: logger}
}

func (w *JSONWriter) Name() string { return "json" }

func (w *JSONWriter) FailureCode() errsys.Code { return errsys.IOWriteJSON }

func (w *JSONWriter) Write(_ context.Context, doc *pipeline.Document) error {
	var buf bytes.Buffer
	if err := EncodeJSON(&buf, doc.Results); err != nil {
		return err
	}
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(w.Dir, BaseName(doc)+".json")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return err
	}
	w.logger.Info("export.json.ok", "doc_id", doc.ID, "path", path, "records", len(doc.Results))
	return nil
}
