package constants

import "strings"

// Source formats accepted by the document readers.
const (
	PDF      = "PDF"
	MARKDOWN = "MARKDOWN"
)

// AllowedExtensions holds the extensions picked up by discovery and the inbox watcher.
var AllowedExtensions = map[string]struct{}{
	"pdf": {},
	"md":  {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MapExtToFormat returns the source format for a normalized extension, or "".
func MapExtToFormat(ext string) string {
	switch NormalizeExt(ext) {
	case "pdf":
		return PDF
	case "md", "markdown":
		return MARKDOWN
	default:
		return ""
	}
}
