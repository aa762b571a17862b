package ocr

import (
	"regexp"
	"strings"
)

var (
	reCRLF       = regexp.MustCompile(`\r\n?`)
	reTabs       = regexp.MustCompile(`\t+`)
	reMultiSpace = regexp.MustCompile(` {2,}`)
	reMultiBlank = regexp.MustCompile(`\n{3,}`)
	reColumnGap  = regexp.MustCompile(`\t+| {2,}`)
)

var roleMarkers = map[string]bool{"system": true, "user": true, "assistant": true}

// Normalize collapses noisy whitespace. Line breaks are kept because table
// rows are line-delimited; runs of blank lines collapse to one.
func Normalize(s string) string {
	if s == "" {
		return s
	}
	s = reCRLF.ReplaceAllString(s, "\n")
	s = reTabs.ReplaceAllString(s, " ")
	s = reMultiSpace.ReplaceAllString(s, " ")
	s = reMultiBlank.ReplaceAllString(s, "\n\n")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// StripRoleMarkers removes chat-template role lines left in model
// transcriptions. When an assistant marker is present only the text after
// the last one is kept.
func StripRoleMarkers(s string) string {
	lines := strings.Split(s, "\n")
	start := 0
	for i, line := range lines {
		if strings.EqualFold(strings.TrimSpace(line), "assistant") {
			start = i + 1
		}
	}
	kept := lines[:0:0]
	for _, line := range lines[start:] {
		if roleMarkers[strings.ToLower(strings.TrimSpace(line))] {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// Clean prepares a vision-model transcription: StripRoleMarkers followed by Normalize.
func Clean(s string) string {
	return Normalize(StripRoleMarkers(s))
}

// LayoutRows turns column-aligned text, as printed by pdftotext -layout or
// tesseract with preserved spacing, into markdown pipe rows. Columns are
// separated by tabs or two or more spaces. Lines with a single column and
// lines that already are pipe rows are left alone.
func LayoutRows(s string) string {
	lines := strings.Split(reCRLF.ReplaceAllString(s, "\n"), "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "|") {
			continue
		}
		cols := reColumnGap.Split(trimmed, -1)
		if len(cols) < 2 {
			continue
		}
		var b strings.Builder
		b.WriteString("|")
		for _, c := range cols {
			b.WriteString(" ")
			b.WriteString(strings.ReplaceAll(c, "|", "/"))
			b.WriteString(" |")
		}
		lines[i] = b.String()
	}
	return strings.Join(lines, "\n")
}

// CleanLayout prepares a PDF text layer or tesseract output. Role markers
// are not stripped; they only appear in model transcriptions.
func CleanLayout(s string) string {
	return Normalize(LayoutRows(strings.ReplaceAll(s, "\f", "")))
}
