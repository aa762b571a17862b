package constants

// ResultStatus is the per-record extraction state.
type ResultStatus string

// Stable values (stored as-is in the results table).
const (
	StatusPending ResultStatus = "pending"
	StatusSuccess ResultStatus = "success"
	StatusFailed  ResultStatus = "failed"
)

// Terminal reports whether no further rounds apply.
func (s ResultStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}
