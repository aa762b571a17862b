package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// PDFConfig names the external tools used to read PDFs.
type PDFConfig struct {
	Pdftotext     string // default "pdftotext"
	Pdftoppm      string // default "pdftoppm"
	Tesseract     string // default "tesseract"
	TesseractLang string // default "eng"
	TessdataDir   string
	DPI           int // default 300
	PSM           int
	MaxPages      int // 0 = no limit
}

// PDFText reads the text layer of each page and falls back to rasterizing
// and OCR when a page has none.
type PDFText struct {
	cfg       PDFConfig
	runner    Runner
	logger    *slog.Logger
	pageCount func(path string) (int, error)
}

type PDFOption func(*PDFText)

func WithRunner(r Runner) PDFOption { return func(p *PDFText) { p.runner = r } }

func WithPageCounter(fn func(path string) (int, error)) PDFOption {
	return func(p *PDFText) { p.pageCount = fn }
}

func NewPDFText(cfg PDFConfig, logger *slog.Logger, opts ...PDFOption) *PDFText {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	p := &PDFText{cfg: cfg, runner: ExecRunner{Logger: logger}, logger: logger, pageCount: api.PageCountFile}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Stream emits one page per PDF page. doc is the file path.
func (p *PDFText) Stream(ctx context.Context, doc string) (<-chan Page, <-chan error) {
	return produce(ctx, func(emit func(Page) bool) error {
		n, err := p.pageCount(doc)
		if err != nil {
			return fmt.Errorf("count pages: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrNoPages, doc)
		}
		if p.cfg.MaxPages > 0 && n > p.cfg.MaxPages {
			n = p.cfg.MaxPages
		}
		for i := 1; i <= n; i++ {
			text, method, err := p.page(ctx, doc, i)
			if err != nil {
				return fmt.Errorf("page %d: %w", i, err)
			}
			p.logger.Debug("ocr.pdf.page", "path", doc, "page", i, "method", method, "chars", len(text))
			if !emit(Page{Number: i, Text: text}) {
				return nil
			}
		}
		return nil
	})
}

func (p *PDFText) page(ctx context.Context, path string, n int) (string, string, error) {
	num := strconv.Itoa(n)
	// pdftotext -layout -enc UTF-8 -eol unix -f N -l N <path> -
	out, errb, err := p.runner.Run(ctx, p.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", "-f", num, "-l", num, path, "-")
	if err != nil {
		return "", "", fmt.Errorf("pdftotext: %w: %s", err, truncate(string(errb), 512))
	}
	if text := CleanLayout(string(out)); text != "" {
		return text, "pdf-text", nil
	}
	text, err := p.ocrPage(ctx, path, num)
	return text, "pdf-ocr", err
}

func (p *PDFText) ocrPage(ctx context.Context, path, num string) (string, error) {
	tmpDir, err := os.MkdirTemp("", "soa-pp-*")
	if err != nil {
		return "", err
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			p.logger.Warn("ocr.tmp.cleanup_failed", "dir", tmpDir, "error", err)
		}
	}()

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r 300 -png -f N -l N -singlefile <in.pdf> <tmp/page>
	_, errb, err := p.runner.Run(ctx, p.cfg.Pdftoppm, "-r", strconv.Itoa(p.cfg.DPI), "-png", "-f", num, "-l", num, "-singlefile", path, prefix)
	if err != nil {
		return "", fmt.Errorf("pdftoppm: %w: %s", err, truncate(string(errb), 512))
	}

	// keep column gaps so LayoutRows can split table rows
	args := []string{prefix + ".png", "stdout", "-l", p.cfg.TesseractLang, "-c", "preserve_interword_spaces=1"}
	if p.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", p.cfg.TessdataDir)
	}
	if p.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(p.cfg.PSM))
	}
	out, errb, err := p.runner.Run(ctx, p.cfg.Tesseract, args...)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, truncate(string(errb), 512))
	}
	return CleanLayout(string(out)), nil
}
