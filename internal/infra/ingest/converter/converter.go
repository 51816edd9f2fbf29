// Package converter implements the Converter collaborator port (spec.md §1)
// for the fast-lane formats that do not require an out-of-process worker:
// plain text, markdown, and JSON become markdown directly.
package converter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/namtroi/ragbase/internal/domain/ingest"
)

// FastLane converts JSON/TXT/MD bytes into the processed markdown stored on
// Document.processedContent. Heavy-lane formats are never routed here; the
// out-of-process worker produces their processedContent via the callback.
type FastLane struct{}

// New constructs the fast-lane converter.
func New() *FastLane { return &FastLane{} }

// Convert implements ingest.Converter for JSON, TXT, and MD.
func (c *FastLane) Convert(_ context.Context, format string, data []byte) (string, error) {
	switch strings.ToUpper(format) {
	case "MD", "TXT":
		return string(data), nil
	case "JSON":
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return "", fmt.Errorf("invalid json: %w", err)
		}
		pretty, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", fmt.Errorf("re-encode json: %w", err)
		}
		return "```json\n" + string(pretty) + "\n```", nil
	default:
		return "", fmt.Errorf("unsupported fast-lane format: %s", format)
	}
}

var _ ingest.Converter = (*FastLane)(nil)
