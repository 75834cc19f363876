package workflows

type ExtractVersionInput struct {
	Family         string `json:"family"`
	VersionID      string `json:"version_id"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	MaxAttempts    int    `json:"max_attempts,omitempty"`
}

type ExtractionStatus struct {
	Family     string `json:"family"`
	VersionID  string `json:"version_id"`
	State      string `json:"state"`
	Attempts   int32  `json:"attempts,omitempty"`
	FailReason string `json:"fail_reason,omitempty"`
}
