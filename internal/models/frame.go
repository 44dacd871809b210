package models

// FrameType discriminates the JSON frames written on the chat stream.
type FrameType string

const (
	FrameReasoning FrameType = "reasoning"
	FrameContent   FrameType = "content"
	FrameError     FrameType = "error"
)

// DoneSentinel terminates a successful chat stream.
const DoneSentinel = "[DONE]"

// StreamFrame is one `data:` payload of the chat stream.
type StreamFrame struct {
	Type    FrameType `json:"type"`
	Text    string    `json:"text"`
	Details string    `json:"details,omitempty"`
}

// FrameStream is the client-side view of one relayed generation.
// Recv returns io.EOF after the sentinel frame.
type FrameStream interface {
	Recv() (StreamFrame, error)
	Close() error
}
