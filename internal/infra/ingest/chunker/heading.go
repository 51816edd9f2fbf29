// Package chunker implements the Chunker collaborator port for fast-lane
// formats, grounded on internal/infra/uploadask/chunker/simple.go's
// token-budget splitting, generalized to track heading breadcrumbs, char
// spans, and quality metadata (spec.md §4.5.1 "out of scope" black box, made
// concrete for the fast lane).
package chunker

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/namtroi/ragbase/internal/domain/ingest"
)

// Heading is the reference fast-lane chunker: it splits markdown by heading
// boundaries, then by a token budget within each section, carrying a
// breadcrumb path built from the heading stack.
type Heading struct {
	MaxTokens int
	encoder   *tiktoken.Tiktoken
}

// NewHeading constructs a Heading chunker with a token budget default of 800,
// matching the teacher's SimpleChunker default.
func NewHeading(maxTokens int) *Heading {
	if maxTokens <= 0 {
		maxTokens = 800
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		enc = nil
	}
	return &Heading{MaxTokens: maxTokens, encoder: enc}
}

// Chunk implements ingest.Chunker. params may carry "maxTokens" to override
// the instance default per processing profile (spec.md §4.4 chunkingParams).
func (h *Heading) Chunk(_ context.Context, content string, params map[string]any) ([]ingest.ChunkInput, error) {
	maxTokens := h.MaxTokens
	if v, ok := params["maxTokens"].(int); ok && v > 0 {
		maxTokens = v
	}

	lines := strings.Split(content, "\n")
	var (
		out       []ingest.ChunkInput
		breadcrumb []string
		current   strings.Builder
		charStart int
		offset    int
		heading   *string
		index     int
	)

	flush := func() {
		text := strings.TrimSpace(current.String())
		if text == "" {
			current.Reset()
			return
		}
		end := charStart + len(text)
		crumbs := append([]string(nil), breadcrumb...)
		tokenCount := h.countTokens(text)
		out = append(out, ingest.ChunkInput{
			Content:      text,
			Index:        index,
			CharStart:    intPtr(charStart),
			CharEnd:      intPtr(end),
			Heading:      heading,
			Breadcrumbs:  crumbs,
			TokenCount:   tokenCount,
			QualityScore: floatPtr(qualityScore(text)),
			QualityFlags: qualityFlags(text, tokenCount, maxTokens),
			HasTitle:     heading != nil,
		})
		index++
		current.Reset()
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if lvl, title, ok := parseHeading(trimmed); ok {
			flush()
			charStart = offset
			heading = strPtr(title)
			breadcrumb = appendBreadcrumb(breadcrumb, lvl, title)
			offset += len(line) + 1
			continue
		}
		if h.countTokens(current.String()+line) >= maxTokens && current.Len() > 0 {
			flush()
			charStart = offset
		}
		current.WriteString(line)
		current.WriteString("\n")
		offset += len(line) + 1
	}
	flush()

	return out, nil
}

func (h *Heading) countTokens(text string) int {
	if text == "" {
		return 0
	}
	if h.encoder != nil {
		return len(h.encoder.Encode(text, nil, nil))
	}
	return len(strings.Fields(text))
}

// parseHeading recognizes ATX-style markdown headings (# .. ######).
func parseHeading(line string) (level int, title string, ok bool) {
	if !strings.HasPrefix(line, "#") {
		return 0, "", false
	}
	level = 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level == 0 || level > 6 || level >= len(line) || line[level] != ' ' {
		return 0, "", false
	}
	return level, strings.TrimSpace(line[level:]), true
}

func appendBreadcrumb(stack []string, level int, title string) []string {
	if level > len(stack) {
		return append(stack, title)
	}
	return append(stack[:level-1], title)
}

func qualityScore(text string) float64 {
	runes := utf8.RuneCountInString(text)
	if runes == 0 {
		return 0
	}
	if runes < 20 {
		return 0.3
	}
	return 1.0
}

func qualityFlags(text string, tokenCount, maxTokens int) []string {
	var flags []string
	if utf8.RuneCountInString(text) < 20 {
		flags = append(flags, "too_short")
	}
	if tokenCount > maxTokens {
		flags = append(flags, "oversized")
	}
	return flags
}

func intPtr(v int) *int          { return &v }
func floatPtr(v float64) *float64 { return &v }
func strPtr(v string) *string     { return &v }

var _ ingest.Chunker = (*Heading)(nil)
