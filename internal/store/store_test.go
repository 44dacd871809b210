package store_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"threadai-backend/internal/models"
	"threadai-backend/internal/store"
	"threadai-backend/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSessions() map[string]models.ChatSession {
	return map[string]models.ChatSession{
		"empty": {ID: "empty", Title: "New Chat", Messages: []models.Message{}, Model: "deepseek-chat", CreatedAt: 1},
		"rich": {
			ID:    "rich",
			Title: "Émojis 🚀 and 日本語",
			Model: "deepseek-reasoner",
			Messages: []models.Message{
				{Role: "user", Content: "line one\nline two\n\ttabbed", Attachments: []models.Attachment{{Name: "notes.md", MimeType: "text/markdown", ExtractedText: "# notes\n"}}},
				{Role: "assistant", Content: "答えは42です", Reasoning: "think\nmore"},
				{Role: "assistant", Content: ""},
			},
			CreatedAt:   1_700_000_000_000,
			TitleLocked: true,
		},
	}
}

func TestCompactExpand_RoundTrip(t *testing.T) {
	in := sampleSessions()
	raw, err := store.Marshal(in)
	require.NoError(t, err)

	compacted := store.Compact(raw)
	assert.True(t, strings.HasPrefix(compacted, "z1:"))

	expanded, err := store.Expand(compacted)
	require.NoError(t, err)
	out, err := store.Unmarshal(expanded)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestCompact_ShrinksRepetitiveText(t *testing.T) {
	in := map[string]models.ChatSession{
		"s": {ID: "s", Messages: []models.Message{{Role: "user", Content: strings.Repeat("the same sentence again. ", 400)}}},
	}
	raw, err := store.Marshal(in)
	require.NoError(t, err)
	assert.Less(t, len(store.Compact(raw)), len(raw)/4)
}

func TestUnmarshal_LegacyBareMap(t *testing.T) {
	legacy := `{"abc":{"id":"abc","title":"Old","messages":[],"model":"deepseek-chat","createdAt":5,"titleLocked":false}}`
	out, err := store.Unmarshal([]byte(legacy))
	require.NoError(t, err)
	require.Contains(t, out, "abc")
	assert.Equal(t, "Old", out["abc"].Title)

	expanded, err := store.Expand(legacy)
	require.NoError(t, err)
	assert.JSONEq(t, legacy, string(expanded))
}

func TestExpand_Corrupt(t *testing.T) {
	for _, stored := range []string{"garbage", "z1:!!!notbase64", "z1:aGVsbG8="} {
		_, err := store.Expand(stored)
		assert.ErrorIs(t, err, store.ErrCorruptPayload, stored)
	}
	_, err := store.Unmarshal([]byte(`{"version":99,"sessions":{}}`))
	assert.ErrorIs(t, err, store.ErrCorruptPayload)
}

func TestSessionStore_LoadSave(t *testing.T) {
	ctx := context.Background()
	s := store.NewSessionStore(memory.New(0))

	empty, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, s.Save(ctx, sampleSessions()))
	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleSessions(), got)

	enabled, err := s.LoadAutoSend(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)
	require.NoError(t, s.SaveAutoSend(ctx, true))
	enabled, err = s.LoadAutoSend(ctx)
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestSessionStore_CorruptPayload(t *testing.T) {
	ctx := context.Background()
	kv := memory.New(0)
	require.NoError(t, kv.Set(ctx, store.KeySessions, "z1:not base64 at all"))

	_, err := store.NewSessionStore(kv).Load(ctx)
	assert.ErrorIs(t, err, store.ErrCorruptPayload)
}

func TestSessionStore_Quota(t *testing.T) {
	ctx := context.Background()
	s := store.NewSessionStore(memory.New(64))

	err := s.Save(ctx, sampleSessions())
	assert.ErrorIs(t, err, store.ErrQuotaExceeded)
}

func TestSessionStore_Passphrase(t *testing.T) {
	ctx := context.Background()
	kv := memory.New(0)

	sealed := store.NewSessionStore(kv)
	require.NoError(t, sealed.UsePassphrase(ctx, "hunter2"))
	require.NoError(t, sealed.Save(ctx, sampleSessions()))

	stored, err := kv.Get(ctx, store.KeySessions)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stored, "e1:"))

	// Same passphrase, fresh store: salt is reused from the kv.
	reopened := store.NewSessionStore(kv)
	require.NoError(t, reopened.UsePassphrase(ctx, "hunter2"))
	got, err := reopened.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleSessions(), got)

	_, err = store.NewSessionStore(kv).Load(ctx)
	assert.ErrorIs(t, err, store.ErrSealedPayload)

	wrong := store.NewSessionStore(kv)
	require.NoError(t, wrong.UsePassphrase(ctx, "wrong"))
	_, err = wrong.Load(ctx)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, store.ErrNotFound))
}
