package export

import "time"

// TranscriptLine is one rendered message of a conversation transcript.
type TranscriptLine struct {
	MessageID int64
	SentAt    time.Time
	Sender    string
	Content   string
	ReplyTo   int64
	System    bool
	Edited    bool
	Pinned    bool
}

// Transcript is the renderable content of a conversation export.
type Transcript struct {
	Title       string
	GeneratedAt time.Time
	Lines       []TranscriptLine
}

// Renderer turns a transcript into file bytes.
type Renderer interface {
	Render(Transcript) ([]byte, error)
	Extension() string
}

var transcriptHeaders = []string{"message_id", "sent_at", "sender", "reply_to", "flags", "content"}

func flags(line TranscriptLine) string {
	out := ""
	add := func(f string) {
		if out != "" {
			out += "|"
		}
		out += f
	}
	if line.System {
		add("system")
	}
	if line.Edited {
		add("edited")
	}
	if line.Pinned {
		add("pinned")
	}
	return out
}
