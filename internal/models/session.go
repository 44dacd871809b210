package models

// Attachment is the text extracted from one uploaded file, kept with the user turn it was sent with.
type Attachment struct {
	Name          string `json:"name"`
	MimeType      string `json:"mimetype"`
	ExtractedText string `json:"extractedText"`
}

// Message is one turn of a chat session.
// For user turns Content excludes attachment text; for assistant turns it holds the
// accumulated content deltas and Reasoning the accumulated reasoning deltas.
type Message struct {
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Reasoning   string       `json:"reasoning,omitempty"`
	Attachments []Attachment `json:"attachments"`
}

// ChatSession is one persisted conversation thread.
// Values are treated as immutable once published: updates build a new session with a new
// Messages slice instead of writing into the old one.
type ChatSession struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Messages    []Message `json:"messages"`
	Model       string    `json:"model"`
	CreatedAt   int64     `json:"createdAt"` // unix millis, restamped on every mutation
	TitleLocked bool      `json:"titleLocked"`
}

// RawFile is a file picked by the user that has not been uploaded yet.
type RawFile struct {
	Name     string
	MimeType string
	Data     []byte
}

// QueuedMessage is a submission captured while a generation was running.
type QueuedMessage struct {
	ID             string
	Content        string
	AttachmentsRaw []RawFile
}

// UserTurns counts the user messages in the session.
func (s ChatSession) UserTurns() int {
	n := 0
	for _, m := range s.Messages {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}

// CloneMessages returns a copy of msgs that can be modified without touching the original.
// Attachment slices are shared; they are never written after creation.
func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
