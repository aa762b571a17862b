package constants

import "strings"

// Ignore is the page label that skips a page entirely.
const Ignore = "Ignore"

// Default record routing when no rule, not even a fallback, matches.
const (
	DefaultGroup = "Others"
	DefaultType  = "Other"
)

// Known record groups. Each maps to one schema in the registry.
const (
	GroupTrade     = "Trade"
	GroupFXTF      = "FXTF"
	GroupPositions = "Positions"
	GroupOthers    = "Others"
)

var allGroups = []string{GroupTrade, GroupFXTF, GroupPositions, GroupOthers}

// Groups returns the known record groups.
func Groups() []string {
	out := make([]string, len(allGroups))
	copy(out, allGroups)
	return out
}

// SheetName turns a group name into a valid workbook sheet name.
func SheetName(group string) string {
	s := strings.TrimSpace(group)
	s = strings.ReplaceAll(s, "&", "and")
	s = strings.ReplaceAll(s, "/", "-")
	for _, bad := range []string{"\\", "?", "*", "[", "]", ":"} {
		s = strings.ReplaceAll(s, bad, "")
	}
	if s == "" {
		s = DefaultGroup
	}
	if r := []rune(s); len(r) > 31 {
		s = string(r[:31])
	}
	return s
}
