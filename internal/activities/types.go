package activities

type ExtractVersionInput struct {
	Family    string `json:"family"`
	VersionID string `json:"version_id"`
}

type ExtractVersionOutput struct {
	Outcome string `json:"outcome"`
	Attempt int32  `json:"attempt"`
}

type RecordExtractionErrorInput struct {
	Family    string `json:"family"`
	VersionID string `json:"version_id"`
	Result    string `json:"result"`
}
