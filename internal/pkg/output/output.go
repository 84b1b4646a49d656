// Package output provides utilities for consistent CLI output formatting.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/streamregex/streamregex/internal/pkg/capture"
	"github.com/streamregex/streamregex/internal/pkg/stream"
)

// IsTTY returns true if stdout is connected to a terminal.
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// MarshalJSON marshals v with formatting based on TTY detection: pretty
// when interactive, compact when piped.
func MarshalJSON(v any) ([]byte, error) {
	if IsTTY() {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}

// DetectionWriter writes detections in a chosen format.
type DetectionWriter struct {
	w       io.Writer
	asJSON  bool
	encoder *json.Encoder
}

// NewDetectionWriter returns a writer emitting one detection per line,
// as JSON objects when format is "json" and as text otherwise.
func NewDetectionWriter(w io.Writer, format string) *DetectionWriter {
	dw := &DetectionWriter{w: w, asJSON: format == "json"}
	if dw.asJSON {
		dw.encoder = json.NewEncoder(w)
	}
	return dw
}

type detectionJSON struct {
	Source    string `json:"source,omitempty"`
	PatternID string `json:"pattern_id"`
	Start     int64  `json:"start"`
	StartMin  int64  `json:"start_min"`
	End       int64  `json:"end"`
	Version   string `json:"set_version"`
}

// Write emits one detection attributed to a source (file name or flow).
func (dw *DetectionWriter) Write(source string, d stream.Detection) error {
	if dw.asJSON {
		return dw.encoder.Encode(detectionJSON{
			Source:    source,
			PatternID: d.PatternID,
			Start:     d.Start,
			StartMin:  d.StartMin,
			End:       d.End,
			Version:   d.SetVersion,
		})
	}
	if source != "" {
		_, err := fmt.Fprintf(dw.w, "%s: %s [%d:%d)\n", source, d.PatternID, d.Start, d.End)
		return err
	}
	_, err := fmt.Fprintf(dw.w, "%s [%d:%d)\n", d.PatternID, d.Start, d.End)
	return err
}

// WriteFlow emits one flow-attributed capture detection.
func (dw *DetectionWriter) WriteFlow(d capture.Detection) error {
	return dw.Write(d.Flow, d.Detection)
}
