package export

import (
	"bytes"
	"encoding/json"
	"testing"

	"threadai-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func sample() models.ChatSession {
	return models.ChatSession{
		ID:        "s1",
		Title:     "Go Basics",
		Model:     "deepseek-reasoner",
		CreatedAt: 1_700_000_000_000,
		Messages: []models.Message{
			{Role: "user", Content: "What is a goroutine?", Attachments: []models.Attachment{{Name: "notes.md", MimeType: "text/markdown", ExtractedText: "# n"}}},
			{Role: "assistant", Content: "A lightweight thread.", Reasoning: "Define it simply."},
		},
	}
}

func TestMarkdown(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "markdown", sample()))
	out := buf.String()

	assert.Contains(t, out, "# Go Basics\n")
	assert.Contains(t, out, "**Model:** deepseek-reasoner")
	assert.Contains(t, out, "**Last active:** 2023-11-14T22:13:20Z")
	assert.Contains(t, out, "### User\n\nWhat is a goroutine?\n")
	assert.Contains(t, out, "*Attached: notes.md (text/markdown)*")
	assert.Contains(t, out, "<summary>Reasoning</summary>\n\nDefine it simply.")
	assert.Contains(t, out, "### Assistant\n\n")
}

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "json", sample()))

	var got exportedSession
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "Go Basics", got.Title)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "Define it simply.", got.Messages[1].Reasoning)
	assert.Equal(t, "# n", got.Messages[0].Attachments[0].Text)
}

func TestYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "yml", sample()))
	assert.Contains(t, buf.String(), "last_active:")
	assert.Contains(t, buf.String(), "2023-11-14T22:13:20Z")

	var got exportedSession
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "s1", got.ID)
	assert.Equal(t, "A lightweight thread.", got.Messages[1].Content)
}

func TestUnsupportedFormat(t *testing.T) {
	_, err := NewExporter("pdf")
	assert.Error(t, err)
}
