package domain

// DatasetStatus is the run state of a registered dataset.
type DatasetStatus string

// Dataset statuses.
const (
	StatusIdle    DatasetStatus = "idle"
	StatusRunning DatasetStatus = "running"
	StatusFailed  DatasetStatus = "failed"
)

// DatasetInfo describes a configured dataset.
type DatasetInfo struct {
	ID          string `json:"id" yaml:"id"`
	Description string `json:"description" yaml:"description"`
	Transport   string `json:"transport" yaml:"transport"`
	Remote      string `json:"remote" yaml:"remote"`
	Transform   bool   `json:"transform" yaml:"transform"`
}

// DatasetState is a point-in-time view of one dataset.
type DatasetState struct {
	DatasetInfo `yaml:",inline"`
	Status      DatasetStatus `json:"status" yaml:"status"`
	LastRun     *Summary      `json:"last_run,omitempty" yaml:"last_run,omitempty"`
}
