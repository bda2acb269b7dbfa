package domain

import (
	"strings"
	"time"
)

// Locator tells a remote source where and what to list.
type Locator struct {
	ListPath    string // Listing URL, FTP directory or object prefix
	FetchPrefix string // Prefix joined with an entry name to form its fetch location
	Pattern     string // Regular expression (HTTP, objects) or glob (FTP)
}

// RemoteEntry is one candidate file as seen in a remote listing.
type RemoteEntry struct {
	Name     string  // File name, quotes stripped
	Location string  // Fully resolved fetch location (URL, FTP path or object key)
	RawLine  string  // Listing text the entry was parsed from
	Key      DateKey // Embedded date, zero until selected
}

// NewRemoteEntry builds an entry from a raw listing match.
// Surrounding quote characters are stripped from the name.
func NewRemoteEntry(raw, location string) RemoteEntry {
	name := strings.Trim(strings.TrimSpace(raw), `"'`)
	return RemoteEntry{Name: name, Location: location, RawLine: raw}
}

// TaskState is the lifecycle state of a FetchTask.
type TaskState string

// Fetch task states.
const (
	StateDiscovered      TaskState = "discovered"
	StateSkippedExisting TaskState = "skipped_existing"
	StateFetched         TaskState = "fetched"
	StatePersisted       TaskState = "persisted"
	StateFailed          TaskState = "failed"
)

// FetchTask is created per selected entry and consumed once by the pipeline.
type FetchTask struct {
	Entry         RemoteEntry
	RawPath       string   // Where raw bytes are stored, empty when only derived outputs are kept
	Targets       []string // Local artifacts whose joint existence short-circuits the fetch
	Volatile      bool     // Always refetched (the present month or quarter)
	CheckRemote   bool     // Check the remote side before fetching a computed name
	AlreadyExists bool
	State         TaskState
	Err           error
}

// Artifact is one local file produced from a fetched payload.
// An existing artifact is kept unless Overwrite is set.
type Artifact struct {
	Path      string
	Data      []byte
	Overwrite bool
}

// Row is one normalized record bucketed by date.
type Row struct {
	Key    DateKey
	Values []string
}

// IndexSample is one exported geophysical index value.
type IndexSample struct {
	Time   time.Time
	Index  string // dst, ssn
	Value  float32
	Source string // Artifact the value was read from
}

// Summary reports the outcome of one pipeline run.
type Summary struct {
	RunID           string        `json:"run_id" yaml:"run_id"`
	Dataset         string        `json:"dataset" yaml:"dataset"`
	TotalCandidates int           `json:"total_candidates" yaml:"total_candidates"`
	Fetched         int           `json:"fetched" yaml:"fetched"`
	SkippedExisting int           `json:"skipped_existing" yaml:"skipped_existing"`
	Failed          int           `json:"failed" yaml:"failed"`
	Bytes           int64         `json:"bytes" yaml:"bytes"`
	StartedAt       time.Time     `json:"started_at" yaml:"started_at"`
	Duration        time.Duration `json:"duration" yaml:"duration"`
	Error           string        `json:"error,omitempty" yaml:"error,omitempty"`
}
