package engine

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"threadai-backend/internal/models"
	"threadai-backend/internal/store"
	"threadai-backend/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type fakeStream struct {
	ctx    context.Context
	frames chan models.StreamFrame
	errs   chan error
}

func (s *fakeStream) Recv() (models.StreamFrame, error) {
	select {
	case <-s.ctx.Done():
		return models.StreamFrame{}, s.ctx.Err()
	case err := <-s.errs:
		return models.StreamFrame{}, err
	case f, ok := <-s.frames:
		if !ok {
			return models.StreamFrame{}, io.EOF
		}
		return f, nil
	}
}

func (s *fakeStream) Close() error { return nil }

type chatCall struct {
	model    string
	messages []models.ChatMessage
	stream   *fakeStream
}

func (c *chatCall) send(typ models.FrameType, text string) {
	c.stream.frames <- models.StreamFrame{Type: typ, Text: text}
}

func (c *chatCall) done() { close(c.stream.frames) }

type uploadResult struct {
	file models.UploadedFile
	err  error
}

type fakeTransport struct {
	calls   chan *chatCall
	chatErr error

	mu          sync.Mutex
	uploads     map[string]uploadResult
	uploadOrder []string
	titleCalls  [][]models.ChatMessage
	titleFn     func(model string, msgs []models.ChatMessage) (string, error)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		calls:   make(chan *chatCall, 16),
		uploads: make(map[string]uploadResult),
		titleFn: func(string, []models.ChatMessage) (string, error) { return "Generated Title", nil },
	}
}

func (f *fakeTransport) Chat(ctx context.Context, model string, msgs []models.ChatMessage) (models.FrameStream, error) {
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	s := &fakeStream{ctx: ctx, frames: make(chan models.StreamFrame, 64), errs: make(chan error, 1)}
	f.calls <- &chatCall{model: model, messages: msgs, stream: s}
	return s, nil
}

func (f *fakeTransport) Title(ctx context.Context, model string, msgs []models.ChatMessage) (string, error) {
	f.mu.Lock()
	f.titleCalls = append(f.titleCalls, msgs)
	fn := f.titleFn
	f.mu.Unlock()
	return fn(model, msgs)
}

func (f *fakeTransport) Upload(ctx context.Context, file models.RawFile) (models.UploadedFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadOrder = append(f.uploadOrder, file.Name)
	r, ok := f.uploads[file.Name]
	if !ok {
		return models.UploadedFile{}, errors.New("unexpected upload")
	}
	return r.file, r.err
}

func (f *fakeTransport) titleCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.titleCalls)
}

type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]models.ChatSession
	autoSend bool
	loadErr  error
	saveErr  error
	saves    int
}

func (s *fakeStore) Load(context.Context) (map[string]models.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	out := make(map[string]models.ChatSession, len(s.sessions))
	for k, v := range s.sessions {
		out[k] = v
	}
	return out, nil
}

func (s *fakeStore) Save(_ context.Context, sessions map[string]models.ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.sessions = sessions
	return nil
}

func (s *fakeStore) LoadAutoSend(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoSend, nil
}

func (s *fakeStore) SaveAutoSend(_ context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoSend = enabled
	return nil
}

// --- helpers ---

func counterClock() func() int64 {
	var n atomic.Int64
	n.Store(1_700_000_000_000)
	return func() int64 { return n.Add(1) }
}

func newEngine(t *testing.T, ft *fakeTransport, fs *fakeStore) *Engine {
	t.Helper()
	if fs == nil {
		fs = &fakeStore{}
	}
	e := New(context.Background(), ft, fs, WithClock(counterClock()))
	t.Cleanup(func() { e.Close() })
	return e
}

func nextCall(t *testing.T, ft *fakeTransport) *chatCall {
	t.Helper()
	select {
	case c := <-ft.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for chat request")
		return nil
	}
}

func active(t *testing.T, e *Engine) models.ChatSession {
	t.Helper()
	s, ok := e.Active()
	require.True(t, ok)
	return s
}

// exchange runs one full question/answer turn on the active session.
func exchange(t *testing.T, e *Engine, ft *fakeTransport, question, answer string) {
	t.Helper()
	require.NoError(t, e.Submit(context.Background(), question, nil))
	c := nextCall(t, ft)
	c.send(models.FrameContent, answer)
	c.done()
	e.Wait()
}

// --- tests ---

func TestNew_CreatesSessionWhenEmpty(t *testing.T) {
	e := newEngine(t, newFakeTransport(), &fakeStore{})

	sessions := e.Sessions()
	require.Len(t, sessions, 1)
	s := active(t, e)
	assert.Equal(t, sessions[0].ID, s.ID)
	assert.Equal(t, DefaultTitle, s.Title)
	assert.Equal(t, DefaultModel, s.Model)
	assert.Empty(t, s.Messages)
	assert.Equal(t, Idle, e.State())
}

func TestNew_LoadFailureStartsFresh(t *testing.T) {
	e := newEngine(t, newFakeTransport(), &fakeStore{loadErr: errors.New("corrupt session payload")})

	require.Len(t, e.Sessions(), 1)
	assert.Equal(t, DefaultTitle, active(t, e).Title)
}

func TestNew_SelectsMostRecent(t *testing.T) {
	fs := &fakeStore{autoSend: true, sessions: map[string]models.ChatSession{
		"old": {ID: "old", Title: "Old", Messages: []models.Message{}, CreatedAt: 10},
		"new": {ID: "new", Title: "New", Messages: []models.Message{}, CreatedAt: 20},
	}}
	e := newEngine(t, newFakeTransport(), fs)

	assert.Equal(t, "new", active(t, e).ID)
	assert.True(t, e.AutoSend())
	list := e.Sessions()
	require.Len(t, list, 2)
	assert.Equal(t, []string{"new", "old"}, []string{list[0].ID, list[1].ID})
}

func TestSubmit_AccumulatesDeltas(t *testing.T) {
	ft := newFakeTransport()
	e := newEngine(t, ft, nil)

	require.NoError(t, e.Submit(context.Background(), "What is 6*7?", nil))
	c := nextCall(t, ft)
	assert.Equal(t, DefaultModel, c.model)
	require.Len(t, c.messages, 1)
	assert.Equal(t, models.ChatMessage{Role: models.RoleUser, Content: "What is 6*7?"}, c.messages[0])

	c.send(models.FrameReasoning, "Let me")
	c.send(models.FrameReasoning, " think")
	c.send(models.FrameContent, "4")
	c.send(models.FrameContent, "2")
	c.done()
	e.Wait()

	s := active(t, e)
	require.Len(t, s.Messages, 2)
	assert.Equal(t, "What is 6*7?", s.Messages[0].Content)
	assert.Equal(t, models.RoleAssistant, s.Messages[1].Role)
	assert.Equal(t, "42", s.Messages[1].Content)
	assert.Equal(t, "Let me think", s.Messages[1].Reasoning)
	assert.Equal(t, "What is 6*7?", s.Title)
	assert.Equal(t, Idle, e.State())
}

func TestSubmit_PlaceholderWhileGenerating(t *testing.T) {
	ft := newFakeTransport()
	e := newEngine(t, ft, nil)

	require.NoError(t, e.Submit(context.Background(), "hello", nil))
	c := nextCall(t, ft)

	s := active(t, e)
	require.Len(t, s.Messages, 2)
	assert.Equal(t, models.Message{Role: models.RoleAssistant}, s.Messages[1])
	assert.Equal(t, Generating, e.State())

	c.send(models.FrameContent, "hi")
	require.Eventually(t, func() bool {
		return active(t, e).Messages[1].Content == "hi"
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, active(t, e).Messages, 2)

	c.done()
	e.Wait()
}

func TestSubmit_IgnoresEmpty(t *testing.T) {
	ft := newFakeTransport()
	e := newEngine(t, ft, nil)

	require.NoError(t, e.Submit(context.Background(), "   ", nil))
	assert.Empty(t, active(t, e).Messages)
	assert.Equal(t, Idle, e.State())
}

func TestSubmit_FailureReplacesWithMarker(t *testing.T) {
	tests := []struct {
		name string
		fail func(c *chatCall)
	}{
		{name: "error frame", fail: func(c *chatCall) {
			c.stream.frames <- models.StreamFrame{Type: models.FrameError, Text: "Internal server error", Details: "upstream 500"}
		}},
		{name: "connection closed without sentinel", fail: func(c *chatCall) {
			c.stream.errs <- io.ErrUnexpectedEOF
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := newFakeTransport()
			e := newEngine(t, ft, nil)

			require.NoError(t, e.Submit(context.Background(), "hi", nil))
			c := nextCall(t, ft)
			c.send(models.FrameReasoning, "thinking")
			c.send(models.FrameContent, "par")
			require.Eventually(t, func() bool {
				return active(t, e).Messages[1].Content == "par"
			}, 2*time.Second, 5*time.Millisecond)
			tt.fail(c)
			e.Wait()

			msg := active(t, e).Messages[1]
			assert.Equal(t, ErrorMarker, msg.Content)
			assert.Empty(t, msg.Reasoning)
			assert.Equal(t, Idle, e.State())
		})
	}
}

func TestSubmit_ChatRequestFails(t *testing.T) {
	ft := newFakeTransport()
	ft.chatErr = errors.New("server returned 400: Model not supported")
	e := newEngine(t, ft, nil)

	require.NoError(t, e.Submit(context.Background(), "hi", nil))
	e.Wait()

	s := active(t, e)
	require.Len(t, s.Messages, 2)
	assert.Equal(t, ErrorMarker, s.Messages[1].Content)
}

func TestStop_PreservesPartial(t *testing.T) {
	ft := newFakeTransport()
	e := newEngine(t, ft, nil)

	require.NoError(t, e.Submit(context.Background(), "tell me a story", nil))
	c := nextCall(t, ft)
	c.send(models.FrameReasoning, "plot")
	c.send(models.FrameContent, "Once upon")
	require.Eventually(t, func() bool {
		return active(t, e).Messages[1].Content == "Once upon"
	}, 2*time.Second, 5*time.Millisecond)

	e.Stop()
	assert.NotEqual(t, Generating, e.State())
	c.send(models.FrameContent, " a time")
	e.Wait()

	msg := active(t, e).Messages[1]
	assert.Equal(t, "Once upon", msg.Content)
	assert.Equal(t, "plot", msg.Reasoning)
	assert.Equal(t, Idle, e.State())
}

func TestQueue_FIFO(t *testing.T) {
	ft := newFakeTransport()
	e := newEngine(t, ft, nil)
	e.SetAutoSend(true)

	require.NoError(t, e.Submit(context.Background(), "first", nil))
	c1 := nextCall(t, ft)
	require.NoError(t, e.Submit(context.Background(), "second", nil))
	require.NoError(t, e.Submit(context.Background(), "third", nil))

	q := e.Queue()
	require.Len(t, q, 2)
	assert.Equal(t, "second", q[0].Content)
	assert.Equal(t, "third", q[1].Content)
	assert.NotEqual(t, q[0].ID, q[1].ID)

	c1.send(models.FrameContent, "1")
	c1.done()
	c2 := nextCall(t, ft)
	require.Len(t, c2.messages, 3)
	assert.Equal(t, "second", c2.messages[2].Content)
	assert.Equal(t, "1", c2.messages[1].Content)
	assert.Len(t, e.Queue(), 1)

	e.Stop()
	c3 := nextCall(t, ft)
	assert.Equal(t, "third", c3.messages[len(c3.messages)-1].Content)
	assert.Empty(t, e.Queue())
	c3.send(models.FrameContent, "3")
	c3.done()
	e.Wait()

	var contents []string
	for _, m := range active(t, e).Messages {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"first", "1", "second", "", "third", "3"}, contents)
}

func TestQueue_DroppedWhenAutoSendOff(t *testing.T) {
	ft := newFakeTransport()
	e := newEngine(t, ft, nil)

	require.NoError(t, e.Submit(context.Background(), "first", nil))
	c := nextCall(t, ft)
	require.NoError(t, e.Submit(context.Background(), "second", nil))
	assert.Empty(t, e.Queue())

	c.done()
	e.Wait()
	assert.Len(t, active(t, e).Messages, 2)
	select {
	case <-ft.calls:
		t.Fatal("dropped submission was sent")
	default:
	}
}

func TestRemoveQueued(t *testing.T) {
	ft := newFakeTransport()
	e := newEngine(t, ft, nil)
	e.SetAutoSend(true)

	require.NoError(t, e.Submit(context.Background(), "first", nil))
	c1 := nextCall(t, ft)
	require.NoError(t, e.Submit(context.Background(), "second", nil))
	require.NoError(t, e.Submit(context.Background(), "third", nil))

	q := e.Queue()
	require.True(t, e.RemoveQueued(q[0].ID))
	assert.False(t, e.RemoveQueued("missing"))

	c1.done()
	c2 := nextCall(t, ft)
	assert.Equal(t, "third", c2.messages[len(c2.messages)-1].Content)
	c2.done()
	e.Wait()
}

func TestUndo(t *testing.T) {
	ft := newFakeTransport()
	e := newEngine(t, ft, nil)

	require.NoError(t, e.Submit(context.Background(), "q1", nil))
	c := nextCall(t, ft)
	assert.ErrorIs(t, e.Undo(0), ErrGenerating)
	c.send(models.FrameContent, "a1")
	c.done()
	e.Wait()
	exchange(t, e, ft, "q2", "a2")

	assert.ErrorIs(t, e.Undo(4), ErrInvalidIndex)
	assert.ErrorIs(t, e.Undo(-1), ErrInvalidIndex)

	require.NoError(t, e.Undo(2))
	s := active(t, e)
	require.Len(t, s.Messages, 2)
	assert.Equal(t, "a1", s.Messages[1].Content)

	require.NoError(t, e.Undo(0))
	assert.Empty(t, active(t, e).Messages)

	require.NoError(t, e.Undo(0))
	assert.Empty(t, active(t, e).Messages)
	assert.ErrorIs(t, e.Undo(1), ErrInvalidIndex)
}

func TestAutoTitle(t *testing.T) {
	ft := newFakeTransport()
	ft.titleFn = func(model string, msgs []models.ChatMessage) (string, error) {
		return "Go Concurrency", nil
	}
	e := newEngine(t, ft, nil)

	exchange(t, e, ft, "How do goroutines work?", "They are cheap threads.")
	assert.Equal(t, 0, ft.titleCallCount())
	assert.Equal(t, "How do goroutines work?", active(t, e).Title)

	exchange(t, e, ft, "And channels?", "Typed pipes.")
	e.Wait()
	require.Equal(t, 1, ft.titleCallCount())
	assert.Len(t, ft.titleCalls[0], 4)

	s := active(t, e)
	assert.Equal(t, "Go Concurrency", s.Title)
	assert.True(t, s.TitleLocked)

	exchange(t, e, ft, "Select?", "Multiplexing.")
	e.Wait()
	assert.Equal(t, 1, ft.titleCallCount())
}

func TestAutoTitle_FailureKeepsTitleAndLock(t *testing.T) {
	ft := newFakeTransport()
	ft.titleFn = func(string, []models.ChatMessage) (string, error) {
		return "", errors.New("server returned 500: Internal server error")
	}
	e := newEngine(t, ft, nil)

	exchange(t, e, ft, "first question", "a")
	exchange(t, e, ft, "second question", "b")
	e.Wait()

	s := active(t, e)
	assert.Equal(t, "first question", s.Title)
	assert.True(t, s.TitleLocked)

	exchange(t, e, ft, "third question", "c")
	e.Wait()
	assert.Equal(t, 1, ft.titleCallCount())
}

func TestSubmit_Attachments(t *testing.T) {
	ft := newFakeTransport()
	ft.uploads["notes.md"] = uploadResult{file: models.UploadedFile{OriginalName: "notes.md", MimeType: "text/markdown", Content: "# Notes\n- a"}}
	ft.uploads["image.png"] = uploadResult{file: models.UploadedFile{OriginalName: "image.png", MimeType: "image/png"}}
	ft.uploads["broken.txt"] = uploadResult{err: errors.New("server returned 413: File too large")}
	e := newEngine(t, ft, nil)

	files := []models.RawFile{
		{Name: "notes.md", MimeType: "text/markdown", Data: []byte("# Notes\n- a")},
		{Name: "image.png", MimeType: "image/png", Data: []byte{0x89}},
		{Name: "broken.txt", MimeType: "text/plain", Data: []byte("x")},
	}
	require.NoError(t, e.Submit(context.Background(), "Summarise", files))
	c := nextCall(t, ft)

	assert.Equal(t, []string{"notes.md", "image.png", "broken.txt"}, ft.uploadOrder)
	assert.Equal(t, "Summarise\n\n[File: notes.md]\n# Notes\n- a\n", c.messages[0].Content)

	user := active(t, e).Messages[0]
	assert.Equal(t, "Summarise", user.Content)
	require.Len(t, user.Attachments, 1)
	assert.Equal(t, models.Attachment{Name: "notes.md", MimeType: "text/markdown", ExtractedText: "# Notes\n- a"}, user.Attachments[0])

	c.done()
	e.Wait()

	// Earlier turns keep their file context in later requests.
	require.NoError(t, e.Submit(context.Background(), "More", nil))
	c2 := nextCall(t, ft)
	assert.Equal(t, c.messages[0].Content, c2.messages[0].Content)
	c2.done()
	e.Wait()
}

func TestSetModel_DoesNotAffectRunningGeneration(t *testing.T) {
	ft := newFakeTransport()
	e := newEngine(t, ft, nil)

	require.NoError(t, e.Submit(context.Background(), "q", nil))
	c1 := nextCall(t, ft)
	require.NoError(t, e.SetModel("deepseek-reasoner"))
	assert.Equal(t, "deepseek-reasoner", active(t, e).Model)
	assert.Equal(t, DefaultModel, c1.model)
	c1.done()
	e.Wait()

	require.NoError(t, e.Submit(context.Background(), "q2", nil))
	c2 := nextCall(t, ft)
	assert.Equal(t, "deepseek-reasoner", c2.model)
	c2.done()
	e.Wait()
}

func TestNewChatSelectDelete(t *testing.T) {
	ft := newFakeTransport()
	e := newEngine(t, ft, nil)
	first := active(t, e).ID
	require.NoError(t, e.SetModel("kimi-k2-0711-preview"))

	second, err := e.NewChat()
	require.NoError(t, err)
	assert.Equal(t, second, active(t, e).ID)
	assert.Equal(t, "kimi-k2-0711-preview", active(t, e).Model)

	assert.ErrorIs(t, e.Select("missing"), ErrNoSession)
	require.NoError(t, e.Select(first))
	assert.Equal(t, first, active(t, e).ID)

	require.NoError(t, e.Delete(first))
	assert.Equal(t, second, active(t, e).ID)

	require.NoError(t, e.Delete(second))
	require.Len(t, e.Sessions(), 1)
	assert.NotEqual(t, second, active(t, e).ID)
	assert.ErrorIs(t, e.Delete(second), ErrNoSession)
}

func TestDelete_CancelsGeneration(t *testing.T) {
	ft := newFakeTransport()
	e := newEngine(t, ft, nil)
	e.SetAutoSend(true)

	require.NoError(t, e.Submit(context.Background(), "q", nil))
	c := nextCall(t, ft)
	require.NoError(t, e.Submit(context.Background(), "queued", nil))
	id := active(t, e).ID

	require.NoError(t, e.Delete(id))
	e.Wait()

	_, ok := e.Session(id)
	assert.False(t, ok)
	assert.Equal(t, Idle, e.StateOf(id))
	assert.Error(t, c.stream.ctx.Err())
	select {
	case <-ft.calls:
		t.Fatal("queued message of deleted session was sent")
	default:
	}
}

func TestSnapshotsAreImmutable(t *testing.T) {
	ft := newFakeTransport()
	e := newEngine(t, ft, nil)

	before := e.Snapshot()
	id := before.ActiveID
	exchange(t, e, ft, "q", "a")

	assert.Empty(t, before.Sessions[id].Messages)
	assert.Len(t, e.Snapshot().Sessions[id].Messages, 2)
}

func TestPersistence(t *testing.T) {
	ft := newFakeTransport()
	fs := &fakeStore{}
	e := New(context.Background(), ft, fs, WithClock(counterClock()))

	exchange(t, e, ft, "remember me", "ok")
	e.SetAutoSend(true)
	require.NoError(t, e.Close())

	fs.mu.Lock()
	defer fs.mu.Unlock()
	assert.True(t, fs.autoSend)
	require.Len(t, fs.sessions, 1)
	for _, s := range fs.sessions {
		require.Len(t, s.Messages, 2)
		assert.Equal(t, "remember me", s.Messages[0].Content)
	}

	assert.ErrorIs(t, e.Submit(context.Background(), "late", nil), ErrClosed)
}

func TestPersistenceSurvivesRestart(t *testing.T) {
	kv := memory.New(0)
	ft := newFakeTransport()
	e := New(context.Background(), ft, store.NewSessionStore(kv), WithClock(counterClock()))

	exchange(t, e, ft, "こんにちは 🚀\nline two", "答えは42です")
	first := active(t, e)
	require.NoError(t, e.Close())

	restarted := New(context.Background(), newFakeTransport(), store.NewSessionStore(kv), WithClock(counterClock()))
	t.Cleanup(func() { restarted.Close() })

	s := active(t, restarted)
	assert.Equal(t, first.ID, s.ID)
	require.Len(t, s.Messages, 2)
	assert.Equal(t, "こんにちは 🚀\nline two", s.Messages[0].Content)
	assert.Equal(t, "答えは42です", s.Messages[1].Content)
	assert.Equal(t, first.Title, s.Title)
}

func TestPersistenceFailureIsSwallowed(t *testing.T) {
	ft := newFakeTransport()
	fs := &fakeStore{saveErr: errors.New("storage quota exceeded")}
	e := New(context.Background(), ft, fs, WithClock(counterClock()))

	exchange(t, e, ft, "q", "a")
	assert.Len(t, active(t, e).Messages, 2)
	require.NoError(t, e.Close())

	fs.mu.Lock()
	defer fs.mu.Unlock()
	assert.Positive(t, fs.saves)
}

func TestSubscribe(t *testing.T) {
	e := newEngine(t, newFakeTransport(), nil)
	ch, unsubscribe := e.Subscribe()
	defer unsubscribe()

	_, err := e.NewChat()
	require.NoError(t, err)
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no update after NewChat")
	}
}

func TestDefaultTitle(t *testing.T) {
	assert.Equal(t, "short", defaultTitle("  short \n"))
	long := "This is a rather long first message about many things"
	got := defaultTitle(long)
	assert.Equal(t, "This is a rather long first me...", got)
	assert.Equal(t, "日本語日本語日本語日本語日本語日本語日本語日本語日本語日本語...", defaultTitle("日本語日本語日本語日本語日本語日本語日本語日本語日本語日本語日本語"))
}
