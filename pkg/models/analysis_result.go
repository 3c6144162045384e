package models

// AnalysisResult is the output of the remote movement analysis for one job.
// It is attached once, when the job reaches done, and never modified.
type AnalysisResult struct {
	RepCount int                `json:"rep_count"`
	Metrics  map[string]float64 `json:"metrics"`
	Feedback string             `json:"feedback"`
}
