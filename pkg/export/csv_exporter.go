package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"
)

// CSVExporter renders transcripts as CSV.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Extension implements Renderer.
func (e *CSVExporter) Extension() string { return "csv" }

// Render produces CSV encoded bytes, one row per message.
func (e *CSVExporter) Render(t Transcript) ([]byte, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(transcriptHeaders); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	for _, line := range t.Lines {
		reply := ""
		if line.ReplyTo != 0 {
			reply = strconv.FormatInt(line.ReplyTo, 10)
		}
		record := []string{
			strconv.FormatInt(line.MessageID, 10),
			line.SentAt.UTC().Format(time.RFC3339),
			line.Sender,
			reply,
			flags(line),
			line.Content,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
