package reportgen

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoReportContent means the model output had neither findings nor an
// impression.
var ErrNoReportContent = errors.New("model output has no findings or impression")

// Sections are the structured parts of a report.
type Sections struct {
	Findings        string
	Impression      string
	Recommendations string
}

var (
	codeFence = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")
	heading   = regexp.MustCompile(`(?im)^[ \t#*_]*(findings|impression|recommendations)[ \t*_]*:[ \t*_]*`)
)

// ParseReport extracts sections from free-form model output. A JSON object,
// optionally inside a code fence, is preferred; otherwise FINDINGS:,
// IMPRESSION: and RECOMMENDATIONS: headings are used.
func ParseReport(text string) (Sections, error) {
	text = strings.TrimSpace(text)
	if m := codeFence.FindStringSubmatch(text); m != nil {
		if s, ok := parseJSON(m[1]); ok {
			return s.validate()
		}
	}
	if s, ok := parseJSON(text); ok {
		return s.validate()
	}
	return parseHeadings(text).validate()
}

func (s Sections) validate() (Sections, error) {
	s.Findings = strings.TrimSpace(s.Findings)
	s.Impression = strings.TrimSpace(s.Impression)
	s.Recommendations = strings.TrimSpace(s.Recommendations)
	if s.Findings == "" && s.Impression == "" {
		return Sections{}, ErrNoReportContent
	}
	return s, nil
}

// textField accepts a JSON string or an array of strings.
type textField string

func (t *textField) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = textField(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	*t = textField(strings.Join(list, "\n"))
	return nil
}

func parseJSON(text string) (Sections, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Sections{}, false
	}
	var raw struct {
		Findings        textField `json:"findings"`
		Impression      textField `json:"impression"`
		Recommendations textField `json:"recommendations"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return Sections{}, false
	}
	return Sections{
		Findings:        string(raw.Findings),
		Impression:      string(raw.Impression),
		Recommendations: string(raw.Recommendations),
	}, true
}

func parseHeadings(text string) Sections {
	var s Sections
	matches := heading.FindAllStringSubmatchIndex(text, -1)
	for i, m := range matches {
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		body := text[m[1]:end]
		switch strings.ToLower(text[m[2]:m[3]]) {
		case "findings":
			s.Findings = body
		case "impression":
			s.Impression = body
		case "recommendations":
			s.Recommendations = body
		}
	}
	return s
}
