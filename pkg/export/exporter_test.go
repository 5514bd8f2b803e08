package export

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTranscript() Transcript {
	sent := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	return Transcript{
		Title:       "CS101 Study Group",
		GeneratedAt: sent,
		Lines: []TranscriptLine{
			{MessageID: 10, SentAt: sent, Sender: "Ana", Content: "Ana created the conversation", System: true},
			{MessageID: 11, SentAt: sent.Add(time.Minute), Sender: "Budi", Content: "hello, world", Edited: true, Pinned: true},
			{MessageID: 12, SentAt: sent.Add(2 * time.Minute), Sender: "Ana", Content: "hi", ReplyTo: 11},
		},
	}
}

func TestCSVExporterRender(t *testing.T) {
	out, err := NewCSVExporter().Render(sampleTranscript())
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, transcriptHeaders, records[0])
	assert.Equal(t, []string{"11", "2024-03-01T09:31:00Z", "Budi", "", "edited|pinned", "hello, world"}, records[2])
	assert.Equal(t, "11", records[3][3])
	assert.Equal(t, "system", records[1][4])
}

func TestPDFExporterRender(t *testing.T) {
	out, err := NewPDFExporter().Render(sampleTranscript())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
	assert.Equal(t, "pdf", NewPDFExporter().Extension())
}
