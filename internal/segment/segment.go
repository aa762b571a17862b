// Package segment splits a page's text into atomic record texts.
//
// Two table encodings are recognised, in document order: markdown pipe
// rows and HTML <table> blocks as emitted by vision transcription models.
package segment

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Segment returns one text per table row. Delimiter rows and header-only
// HTML rows are dropped. The result is deterministic for a given input.
func Segment(text string) []string {
	var out []string
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	for i := 0; i < len(lines); i++ {
		ln := strings.TrimSpace(lines[i])

		if start := strings.Index(strings.ToLower(ln), "<table"); start >= 0 {
			var b strings.Builder
			b.WriteString(ln[start:])
			for !strings.Contains(strings.ToLower(b.String()), "</table>") && i+1 < len(lines) {
				i++
				b.WriteString("\n")
				b.WriteString(lines[i])
			}
			out = append(out, htmlRows(b.String())...)
			continue
		}

		if isPipeRow(ln) && !IsDelimiter(ln) {
			out = append(out, ln)
		}
	}
	return out
}

func isPipeRow(ln string) bool {
	return len(ln) >= 2 && strings.HasPrefix(ln, "|") && strings.HasSuffix(ln, "|")
}

// IsDelimiter reports whether a pipe row only separates a table header from its body.
func IsDelimiter(row string) bool {
	if !strings.Contains(row, "-") {
		return false
	}
	return strings.Trim(row, "|-: \t") == ""
}

// Cells splits a pipe row into trimmed cell values.
func Cells(row string) []string {
	row = strings.TrimSpace(row)
	row = strings.TrimPrefix(row, "|")
	row = strings.TrimSuffix(row, "|")
	parts := strings.Split(row, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// IsBlank reports whether every cell of a record is empty.
func IsBlank(row string) bool {
	for _, c := range Cells(row) {
		if c != "" {
			return false
		}
	}
	return true
}

// JoinCells renders cells as a pipe row.
func JoinCells(cells []string) string {
	var b strings.Builder
	b.WriteString("|")
	for _, c := range cells {
		b.WriteString(" ")
		b.WriteString(strings.ReplaceAll(c, "|", "/"))
		b.WriteString(" |")
	}
	return b.String()
}

func htmlRows(fragment string) []string {
	ctx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), ctx)
	if err != nil {
		return nil
	}

	var rows []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Tr {
			if row, ok := rowText(n); ok {
				rows = append(rows, row)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return rows
}

// rowText renders a <tr>. Rows made only of <th> cells are table headers.
func rowText(tr *html.Node) (string, bool) {
	var cells []string
	dataCells := 0
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch c.DataAtom {
		case atom.Td:
			dataCells++
		case atom.Th:
		default:
			continue
		}
		cells = append(cells, nodeText(c))
	}
	if dataCells == 0 {
		return "", false
	}
	return JoinCells(cells), true
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			b.WriteString(n.Data)
		case n.Type == html.ElementNode && n.DataAtom == atom.Br:
			b.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
