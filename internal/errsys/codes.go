package errsys

// Level is the severity attached to an emitted event.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Code is one entry of the fixed error taxonomy.
type Code struct {
	ID    string
	Stage string
	Level Level
}

func code(id, stage string) Code {
	return Code{ID: id, Stage: stage, Level: LevelError}
}

// Page level.
var (
	PageHeader = code("SOA-PAGE-HEADER-001", "page_parse")
	PageClass  = code("SOA-PAGE-CLASS-002", "page_classify")
	PageSplit  = code("SOA-PAGE-SPLIT-003", "page_split")
)

// Record level.
var (
	RecEmpty  = code("SOA-REC-EMPTY-001", "record_parse")
	RecStitch = code("SOA-REC-STITCH-002", "record_stitch")
	RecRoute  = code("SOA-REC-ROUTE-003", "record_route")
	RecDup    = code("SOA-REC-DUP-004", "record_dedup")
	RecNoise  = code("SOA-REC-NOISE-005", "record_quality")
)

// LLM level.
var (
	LLMOutOfMemory = code("SOA-LLM-OOM-001", "llm_extract")
	LLMTimeout     = code("SOA-LLM-TIMEOUT-002", "llm_extract")
	LLMRuntime     = code("SOA-LLM-RUNTIME-003", "llm_extract")
	LLMEmpty       = code("SOA-LLM-EMPTY-004", "llm_extract")
	LLMNonJSON     = code("SOA-LLM-NONJSON-005", "llm_parse")
	LLMJSONParse   = code("SOA-LLM-JSONPARSE-006", "llm_parse")
	LLMHallucinate = code("SOA-LLM-HALLU-007", "llm_validate")
	LLMRetry       = code("SOA-LLM-RETRY-008", "llm_extract")
)

// Validation level.
var (
	ValSchema   = code("SOA-VAL-SCHEMA-001", "validate")
	ValDate     = code("SOA-VAL-DATE-002", "validate")
	ValCurrency = code("SOA-VAL-CURR-003", "validate")
	ValISIN     = code("SOA-VAL-ISIN-004", "validate")
	ValNumber   = code("SOA-VAL-NUM-005", "validate")
	ValRange    = code("SOA-VAL-RANGE-006", "validate")
	ValConflict = code("SOA-VAL-CONFLICT-007", "validate")
)

// I/O level.
var (
	IOReadMarkdown = code("SOA-IO-READMD-001", "io")
	IOWriteJSON    = code("SOA-IO-WRITEJSON-002", "io")
	IOWriteTabular = code("SOA-IO-WRITECSV-003", "io")
	IOEncoding     = code("SOA-IO-ENC-004", "io")
)

// Startup level.
var (
	SysConfig     = code("SOA-SYS-CONFIG-001", "startup")
	SysVersion    = code("SOA-SYS-VERSION-002", "startup")
	SysDependency = code("SOA-SYS-DEP-003", "startup")
)

var all = []Code{
	PageHeader, PageClass, PageSplit,
	RecEmpty, RecStitch, RecRoute, RecDup, RecNoise,
	LLMOutOfMemory, LLMTimeout, LLMRuntime, LLMEmpty, LLMNonJSON, LLMJSONParse, LLMHallucinate, LLMRetry,
	ValSchema, ValDate, ValCurrency, ValISIN, ValNumber, ValRange, ValConflict,
	IOReadMarkdown, IOWriteJSON, IOWriteTabular, IOEncoding,
	SysConfig, SysVersion, SysDependency,
}

// Codes returns the full taxonomy in declaration order.
func Codes() []Code {
	out := make([]Code, len(all))
	copy(out, all)
	return out
}

// Lookup finds a code by its identifier.
func Lookup(id string) (Code, bool) {
	for _, c := range all {
		if c.ID == id {
			return c, true
		}
	}
	return Code{}, false
}
