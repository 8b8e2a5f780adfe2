// Package report renders check results as a text checklist, a JSON document,
// or a styled terminal view, and writes reports to disk.
package report

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/mattjoyce/qacheck/internal/check"
)

// Summary counts results per verdict.
type Summary struct {
	Passed   int `json:"passed"`
	Warnings int `json:"warnings"`
	Failed   int `json:"failed"`
}

// Summarize counts results per verdict.
func Summarize(results []check.Result) Summary {
	var s Summary
	for _, r := range results {
		switch r.Verdict {
		case check.Pass:
			s.Passed++
		case check.Warn:
			s.Warnings++
		case check.Fail:
			s.Failed++
		}
	}
	return s
}

func (s Summary) String() string {
	return fmt.Sprintf("Summary: %d passed, %d warnings, %d failed", s.Passed, s.Warnings, s.Failed)
}

// Document is the machine-readable report of one run.
type Document struct {
	RunID     string         `json:"run_id"`
	Target    string         `json:"target,omitempty"`
	Command   []string       `json:"command,omitempty"`
	Dialect   string         `json:"dialect,omitempty"`
	Policy    string         `json:"policy,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	Duration  string         `json:"duration,omitempty"`
	Digest    string         `json:"digest"`
	Summary   Summary        `json:"summary"`
	Results   []check.Result `json:"results"`
}

// NewDocument wraps results with a fresh run id, their summary and digest.
func NewDocument(results []check.Result) *Document {
	if results == nil {
		results = []check.Result{}
	}
	return &Document{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Digest:    Digest(results),
		Summary:   Summarize(results),
		Results:   results,
	}
}

// Digest returns the hex BLAKE3 hash of the results' JSON encoding. Two runs
// with identical outcomes in the same order share a digest.
func Digest(results []check.Result) string {
	h := blake3.New()
	enc := json.NewEncoder(h)
	for _, r := range results {
		// Encoding a Result cannot fail.
		_ = enc.Encode(r)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Text renders the checklist: one "STATUS name" line and one "   ↳ message"
// line per result, then a blank line and the summary.
func Text(results []check.Result) string {
	lines := make([]string, 0, len(results)*2+2)
	for _, r := range results {
		lines = append(lines, fmt.Sprintf("%s %s", r.Verdict, r.Name))
		lines = append(lines, "   ↳ "+r.Message)
	}
	lines = append(lines, "", Summarize(results).String())
	return strings.Join(lines, "\n")
}

// JSON renders doc as indented JSON without HTML escaping.
func JSON(doc *Document) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// Formats lists the supported render formats.
var Formats = []string{"text", "json", "styled"}

// Render renders doc in the named format.
func Render(format string, doc *Document) (string, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return Text(doc.Results), nil
	case "json":
		return JSON(doc)
	case "styled":
		return Styled(doc, NewDefaultTheme()), nil
	default:
		return "", fmt.Errorf("unknown report format %q (known: %s)", format, strings.Join(Formats, ", "))
	}
}

// Extension returns the file extension used when writing format to a directory.
func Extension(format string) string {
	if strings.EqualFold(format, "json") {
		return ".json"
	}
	return ".txt"
}
