package detection

// AnalyzeRequest is the wire request to the detection engine.
type AnalyzeRequest struct {
	Text             string   `json:"text"`
	DefaultThreshold float64  `json:"default_threshold"`
	LabelsPerBatch   int      `json:"labels_per_batch,omitempty"`
	Detectors        []string `json:"detectors,omitempty"`
}

// WireEntity is one finding as reported by the engine. Positions are rune
// offsets into the submitted text, end exclusive.
type WireEntity struct {
	Start   int     `json:"start"`
	End     int     `json:"end"`
	Label   string  `json:"label"`
	Score   float64 `json:"score"`
	Text    string  `json:"text"`
	Context string  `json:"context,omitempty"`
}

// AnalyzeResponse is the wire response from the detection engine.
type AnalyzeResponse struct {
	Entities []WireEntity `json:"entities"`
}
