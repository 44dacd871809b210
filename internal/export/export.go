// Package export renders a chat session for sharing outside the app.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"threadai-backend/internal/models"

	"gopkg.in/yaml.v3"
)

// Exporter writes one session in a specific format.
type Exporter interface {
	Export(session models.ChatSession, w io.Writer) error
	Extension() string
}

// NewExporter returns the exporter for format.
func NewExporter(format string) (Exporter, error) {
	switch strings.ToLower(format) {
	case "md", "markdown":
		return MarkdownExporter{}, nil
	case "json":
		return JSONExporter{}, nil
	case "yaml", "yml":
		return YAMLExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s (supported: md, json, yaml)", format)
	}
}

// Write exports session to w in format.
func Write(w io.Writer, format string, session models.ChatSession) error {
	exp, err := NewExporter(format)
	if err != nil {
		return err
	}
	return exp.Export(session, w)
}

type exportedAttachment struct {
	Name     string `json:"name" yaml:"name"`
	MimeType string `json:"mimetype" yaml:"mimetype"`
	Text     string `json:"text,omitempty" yaml:"text,omitempty"`
}

type exportedMessage struct {
	Role        string               `json:"role" yaml:"role"`
	Content     string               `json:"content" yaml:"content"`
	Reasoning   string               `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`
	Attachments []exportedAttachment `json:"attachments,omitempty" yaml:"attachments,omitempty"`
}

type exportedSession struct {
	ID         string            `json:"id" yaml:"id"`
	Title      string            `json:"title" yaml:"title"`
	Model      string            `json:"model" yaml:"model"`
	LastActive string            `json:"lastActive" yaml:"last_active"`
	Messages   []exportedMessage `json:"messages" yaml:"messages"`
}

func toExported(s models.ChatSession) exportedSession {
	out := exportedSession{
		ID:         s.ID,
		Title:      s.Title,
		Model:      s.Model,
		LastActive: lastActive(s),
		Messages:   make([]exportedMessage, 0, len(s.Messages)),
	}
	for _, m := range s.Messages {
		em := exportedMessage{Role: m.Role, Content: m.Content, Reasoning: m.Reasoning}
		for _, a := range m.Attachments {
			em.Attachments = append(em.Attachments, exportedAttachment{Name: a.Name, MimeType: a.MimeType, Text: a.ExtractedText})
		}
		out.Messages = append(out.Messages, em)
	}
	return out
}

func lastActive(s models.ChatSession) string {
	return time.UnixMilli(s.CreatedAt).UTC().Format(time.RFC3339)
}

// JSONExporter writes indented JSON.
type JSONExporter struct{}

func (JSONExporter) Export(session models.ChatSession, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(toExported(session))
}

func (JSONExporter) Extension() string { return "json" }

// YAMLExporter writes YAML.
type YAMLExporter struct{}

func (YAMLExporter) Export(session models.ChatSession, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer func() { _ = enc.Close() }()
	return enc.Encode(toExported(session))
}

func (YAMLExporter) Extension() string { return "yaml" }

// MarkdownExporter writes a readable transcript. Reasoning is folded into a details block.
type MarkdownExporter struct{}

func (MarkdownExporter) Export(session models.ChatSession, w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", session.Title)
	fmt.Fprintf(&b, "**Model:** %s  \n", session.Model)
	fmt.Fprintf(&b, "**Last active:** %s  \n", lastActive(session))
	fmt.Fprintf(&b, "**Messages:** %d\n\n", len(session.Messages))

	for i, m := range session.Messages {
		b.WriteString("---\n\n")
		fmt.Fprintf(&b, "### %s\n\n", roleHeading(m.Role))
		if m.Reasoning != "" {
			b.WriteString("<details>\n<summary>Reasoning</summary>\n\n")
			b.WriteString(m.Reasoning)
			b.WriteString("\n\n</details>\n\n")
		}
		b.WriteString(m.Content)
		b.WriteString("\n")
		for _, a := range m.Attachments {
			fmt.Fprintf(&b, "\n*Attached: %s (%s)*\n", a.Name, a.MimeType)
		}
		if i < len(session.Messages)-1 {
			b.WriteString("\n")
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func (MarkdownExporter) Extension() string { return "md" }

func roleHeading(role string) string {
	switch role {
	case models.RoleUser:
		return "User"
	case models.RoleAssistant:
		return "Assistant"
	default:
		return role
	}
}
