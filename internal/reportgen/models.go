// Package reportgen turns a transcription into a structured medical report by
// trying report providers in order until one succeeds. When every provider
// fails the caller still gets a report: the transcription itself, flagged for
// manual review.
package reportgen

import "time"

// Processing modes.
const (
	ModeLocal    = "local"
	ModeCloud    = "cloud"
	ModeFallback = "fallback"
)

// Input is one report request.
type Input struct {
	TranscriptionText string `json:"transcriptionText"`
	ReportType        string `json:"reportType,omitempty"`
	ProcessingMode    string `json:"processingMode,omitempty"`
	PreferredProvider string `json:"preferredProvider,omitempty"`
	Language          string `json:"language,omitempty"`
}

// AttemptFailure is one failed provider attempt.
type AttemptFailure struct {
	Provider   string `json:"provider"`
	Reason     string `json:"reason"`
	Error      string `json:"error"`
	DurationMS int64  `json:"durationMs"`
}

// Metadata describes how a result was produced.
type Metadata struct {
	ProcessingMode string           `json:"processingMode"`
	AIGenerated    bool             `json:"aiGenerated"`
	Attempts       int              `json:"attempts"`
	DurationMS     int64            `json:"durationMs"`
	ReportType     string           `json:"reportType,omitempty"`
	FallbackLog    []AttemptFailure `json:"fallbackLog,omitempty"`
	FallbackReason string           `json:"fallbackReason,omitempty"`
}

// Result is a generated report.
type Result struct {
	Findings        string    `json:"findings"`
	Impression      string    `json:"impression"`
	Recommendations string    `json:"recommendations"`
	Provider        string    `json:"provider"`
	Model           string    `json:"model"`
	GeneratedAt     time.Time `json:"generatedAt"`
	Metadata        Metadata  `json:"metadata"`
}

// Synthesized fallback values.
const (
	FallbackProvider        = "local-fallback"
	FallbackModel           = "none"
	FallbackImpression      = "Automated report generation is currently unavailable. This report requires manual review."
	FallbackRecommendations = "Review the transcription above and complete the report manually."
)
