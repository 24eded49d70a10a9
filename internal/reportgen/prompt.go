package reportgen

import (
	"fmt"
	"strings"

	"medgate/internal/reportgen/providers"
)

const systemPrompt = `You are a clinical documentation assistant. Turn the dictated transcription into a structured medical report.
Respond with a single JSON object and nothing else:
{"findings": "...", "impression": "...", "recommendations": "..."}
Use only information present in the transcription. Do not invent measurements, diagnoses or patient details.`

const maxReportTokens = 2048

// buildPrompt renders the completion request for in.
func buildPrompt(in Input) providers.Prompt {
	var b strings.Builder
	if in.ReportType != "" {
		fmt.Fprintf(&b, "Report type: %s\n", in.ReportType)
	}
	if in.Language != "" {
		fmt.Fprintf(&b, "Write the report in: %s\n", in.Language)
	}
	b.WriteString("\nTranscription:\n")
	b.WriteString(strings.TrimSpace(in.TranscriptionText))

	return providers.Prompt{
		System:      systemPrompt,
		User:        b.String(),
		MaxTokens:   maxReportTokens,
		Temperature: 0.2,
	}
}
