// Package engine owns the client-side chat sessions: the in-flight generation of each
// session, the queue of messages typed while it runs, cancellation, persistence and
// automatic titles.
//
// Readers never lock. Every mutation builds a new Snapshot (copy-on-write) and publishes it
// atomically, so a Snapshot obtained from Engine.Snapshot is never modified afterwards.
package engine

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"threadai-backend/internal/models"

	"github.com/google/uuid"
)

var (
	ErrNoSession    = errors.New("session not found")
	ErrGenerating   = errors.New("a response is being generated")
	ErrInvalidIndex = errors.New("message index out of range")
	ErrClosed       = errors.New("engine is closed")
)

const (
	// ErrorMarker replaces the assistant message when a generation fails.
	ErrorMarker = "Error: Failed to generate response."
	// DefaultTitle names sessions that have no user message yet.
	DefaultTitle = "New Chat"
	// DefaultModel is used when no model is configured.
	DefaultModel = "deepseek-chat"

	titleContextMessages = 4
	titleTimeout         = time.Minute
	saveTimeout          = 10 * time.Second
)

// State is the generation state of one session.
type State int

const (
	Idle State = iota
	Generating
	Cancelling
)

func (s State) String() string {
	switch s {
	case Generating:
		return "generating"
	case Cancelling:
		return "cancelling"
	default:
		return "idle"
	}
}

// Transport reaches the chat server.
type Transport interface {
	Chat(ctx context.Context, model string, messages []models.ChatMessage) (models.FrameStream, error)
	Title(ctx context.Context, model string, messages []models.ChatMessage) (string, error)
	Upload(ctx context.Context, file models.RawFile) (models.UploadedFile, error)
}

// Persister stores sessions and the auto-send preference.
type Persister interface {
	Load(ctx context.Context) (map[string]models.ChatSession, error)
	Save(ctx context.Context, sessions map[string]models.ChatSession) error
	LoadAutoSend(ctx context.Context) (bool, error)
	SaveAutoSend(ctx context.Context, enabled bool) error
}

// Snapshot is an immutable view of all sessions.
type Snapshot struct {
	Sessions map[string]models.ChatSession
	ActiveID string
	AutoSend bool
}

type generation struct {
	sessionID string
	model     string
	ctx       context.Context
	cancel    context.CancelFunc
	state     State
	tail      int // index of the assistant placeholder, -1 until it is appended
}

// Option customises an Engine.
type Option func(*Engine)

// WithDefaultModel sets the model of sessions created when there is no active session to copy it from.
func WithDefaultModel(model string) Option {
	return func(e *Engine) {
		if model != "" {
			e.defaultModel = model
		}
	}
}

// WithClock replaces the unix-millisecond clock used for CreatedAt.
func WithClock(now func() int64) Option {
	return func(e *Engine) { e.now = now }
}

// Engine is the session engine. All methods are safe for concurrent use.
type Engine struct {
	transport    Transport
	store        Persister
	defaultModel string
	now          func() int64

	snap atomic.Pointer[Snapshot]

	mu     sync.Mutex // serialises mutations and guards the fields below
	gens   map[string]*generation
	queues map[string][]models.QueuedMessage
	closed bool

	subMu   sync.Mutex
	subs    map[int]chan struct{}
	nextSub int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	saveReq   chan struct{}
	stopSaver chan struct{}
	saverDone chan struct{}
}

// New restores persisted sessions and starts the engine. A failed load is logged and the
// engine starts empty; when there are no sessions a fresh one is created and made active.
// Otherwise the most recently active session is selected.
func New(ctx context.Context, transport Transport, store Persister, opts ...Option) *Engine {
	engineCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e := &Engine{
		transport:    transport,
		store:        store,
		defaultModel: DefaultModel,
		now:          func() int64 { return time.Now().UnixMilli() },
		gens:         make(map[string]*generation),
		queues:       make(map[string][]models.QueuedMessage),
		subs:         make(map[int]chan struct{}),
		ctx:          engineCtx,
		cancel:       cancel,
		saveReq:      make(chan struct{}, 1),
		stopSaver:    make(chan struct{}),
		saverDone:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	sessions, err := store.Load(ctx)
	if err != nil {
		log.Printf("ERROR [Engine] Failed to load sessions, starting with none: %v", err)
		sessions = nil
	}
	if sessions == nil {
		sessions = make(map[string]models.ChatSession)
	}
	autoSend, err := store.LoadAutoSend(ctx)
	if err != nil {
		log.Printf("WARN [Engine] Failed to load auto-send preference: %v", err)
	}

	snap := &Snapshot{Sessions: sessions, AutoSend: autoSend}
	created := false
	if len(sessions) == 0 {
		s := e.newSession(e.defaultModel)
		snap.Sessions[s.ID] = s
		created = true
	}
	snap.ActiveID = mostRecent(snap.Sessions)
	e.snap.Store(snap)

	go e.saver()
	if created {
		e.requestSave()
	}
	log.Printf("[Engine] Started with %d sessions (active %s, auto-send %t)", len(snap.Sessions), snap.ActiveID, autoSend)
	return e
}

// Snapshot returns the current immutable state.
func (e *Engine) Snapshot() *Snapshot {
	return e.snap.Load()
}

// Sessions returns all sessions, most recently active first.
func (e *Engine) Sessions() []models.ChatSession {
	return SortSessions(e.snap.Load().Sessions)
}

// SortSessions lists sessions most recently active first.
func SortSessions(sessions map[string]models.ChatSession) []models.ChatSession {
	out := make([]models.ChatSession, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Active returns the active session.
func (e *Engine) Active() (models.ChatSession, bool) {
	snap := e.snap.Load()
	s, ok := snap.Sessions[snap.ActiveID]
	return s, ok
}

// Session returns the session with id.
func (e *Engine) Session(id string) (models.ChatSession, bool) {
	s, ok := e.snap.Load().Sessions[id]
	return s, ok
}

// AutoSend reports whether messages typed during a generation are queued.
func (e *Engine) AutoSend() bool {
	return e.snap.Load().AutoSend
}

// State returns the generation state of the active session.
func (e *Engine) State() State {
	return e.StateOf(e.snap.Load().ActiveID)
}

// StateOf returns the generation state of a session.
func (e *Engine) StateOf(id string) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if g, ok := e.gens[id]; ok {
		return g.state
	}
	return Idle
}

// Queue returns the messages waiting behind the active session's generation, oldest first.
func (e *Engine) Queue() []models.QueuedMessage {
	id := e.snap.Load().ActiveID
	e.mu.Lock()
	defer e.mu.Unlock()
	q := e.queues[id]
	out := make([]models.QueuedMessage, len(q))
	copy(out, q)
	return out
}

// Subscribe returns a channel that receives a signal after state changes. Signals are
// coalesced: a slow reader sees one pending signal, then reads the latest Snapshot.
// The returned function unsubscribes.
func (e *Engine) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.subMu.Unlock()

	return ch, func() {
		e.subMu.Lock()
		delete(e.subs, id)
		e.subMu.Unlock()
	}
}

func (e *Engine) notify() {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// NewChat creates an empty session, makes it active and returns its id. The model is
// carried over from the previously active session.
func (e *Engine) NewChat() (string, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", ErrClosed
	}
	model := e.defaultModel
	if cur, ok := e.Active(); ok && cur.Model != "" {
		model = cur.Model
	}
	s := e.newSession(model)
	e.publishLocked(func(snap *Snapshot) {
		snap.Sessions[s.ID] = s
		snap.ActiveID = s.ID
	})
	e.mu.Unlock()

	e.requestSave()
	return s.ID, nil
}

// Select makes the session with id active.
func (e *Engine) Select(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.snap.Load().Sessions[id]; !ok {
		return ErrNoSession
	}
	e.publishLocked(func(snap *Snapshot) { snap.ActiveID = id })
	return nil
}

// Delete removes a session, cancelling its generation and dropping its queue. When the
// active session is deleted the most recent remaining one becomes active, or a new one is
// created if none remain.
func (e *Engine) Delete(id string) error {
	e.mu.Lock()
	snap := e.snap.Load()
	if _, ok := snap.Sessions[id]; !ok {
		e.mu.Unlock()
		return ErrNoSession
	}
	if g, ok := e.gens[id]; ok {
		g.cancel()
		delete(e.gens, id)
	}
	delete(e.queues, id)

	model := e.defaultModel
	if s := snap.Sessions[id]; s.Model != "" {
		model = s.Model
	}
	e.publishLocked(func(next *Snapshot) {
		delete(next.Sessions, id)
		if next.ActiveID != id {
			return
		}
		if len(next.Sessions) == 0 {
			s := e.newSession(model)
			next.Sessions[s.ID] = s
		}
		next.ActiveID = mostRecent(next.Sessions)
	})
	e.mu.Unlock()

	log.Printf("[Engine] Deleted session %s", id)
	e.requestSave()
	return nil
}

// SetModel switches the active session's model. A running generation keeps the model it
// was started with.
func (e *Engine) SetModel(model string) error {
	if model == "" {
		return errors.New("model must not be empty")
	}
	e.mu.Lock()
	snap := e.snap.Load()
	s, ok := snap.Sessions[snap.ActiveID]
	if !ok {
		e.mu.Unlock()
		return ErrNoSession
	}
	s.Model = model
	s.CreatedAt = e.now()
	e.publishLocked(func(next *Snapshot) { next.Sessions[s.ID] = s })
	e.mu.Unlock()

	e.requestSave()
	return nil
}

// SetAutoSend sets whether messages typed during a generation are queued (true) or dropped.
func (e *Engine) SetAutoSend(enabled bool) {
	e.mu.Lock()
	e.publishLocked(func(next *Snapshot) { next.AutoSend = enabled })
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := e.store.SaveAutoSend(ctx, enabled); err != nil {
		log.Printf("WARN [Engine] Failed to persist auto-send preference: %v", err)
	}
}

// Undo removes the message at index i and everything after it. Not allowed while the
// session is generating.
func (e *Engine) Undo(i int) error {
	e.mu.Lock()
	snap := e.snap.Load()
	s, ok := snap.Sessions[snap.ActiveID]
	if !ok {
		e.mu.Unlock()
		return ErrNoSession
	}
	if _, busy := e.gens[s.ID]; busy {
		e.mu.Unlock()
		return ErrGenerating
	}
	if i == 0 && len(s.Messages) == 0 {
		e.mu.Unlock()
		return nil
	}
	if i < 0 || i >= len(s.Messages) {
		e.mu.Unlock()
		return ErrInvalidIndex
	}
	s.Messages = models.CloneMessages(s.Messages[:i])
	s.CreatedAt = e.now()
	e.publishLocked(func(next *Snapshot) { next.Sessions[s.ID] = s })
	e.mu.Unlock()

	e.requestSave()
	return nil
}

// RemoveQueued drops a queued message of the active session before it is sent.
func (e *Engine) RemoveQueued(id string) bool {
	active := e.snap.Load().ActiveID
	e.mu.Lock()
	defer e.mu.Unlock()
	q := e.queues[active]
	for i, m := range q {
		if m.ID == id {
			next := make([]models.QueuedMessage, 0, len(q)-1)
			next = append(next, q[:i]...)
			next = append(next, q[i+1:]...)
			e.queues[active] = next
			e.notify()
			return true
		}
	}
	return false
}

// Stop cancels the active session's generation. Whatever was received so far is kept.
func (e *Engine) Stop() {
	active := e.snap.Load().ActiveID
	e.mu.Lock()
	defer e.mu.Unlock()
	g, ok := e.gens[active]
	if !ok || g.state == Cancelling {
		return
	}
	g.state = Cancelling
	g.cancel()
	log.Printf("[Engine] Cancelling generation for session %s", active)
	e.notify()
}

// Wait blocks until all generations and title requests have finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Close cancels running work, waits for it and writes the final state.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	for _, g := range e.gens {
		g.state = Cancelling
		g.cancel()
	}
	e.cancel()
	e.mu.Unlock()

	e.wg.Wait()
	close(e.stopSaver)
	<-e.saverDone
	return nil
}

// publishLocked copies the current snapshot, applies fn and publishes the result.
// e.mu must be held.
func (e *Engine) publishLocked(fn func(next *Snapshot)) {
	cur := e.snap.Load()
	next := &Snapshot{
		Sessions: make(map[string]models.ChatSession, len(cur.Sessions)+1),
		ActiveID: cur.ActiveID,
		AutoSend: cur.AutoSend,
	}
	for id, s := range cur.Sessions {
		next.Sessions[id] = s
	}
	fn(next)
	e.snap.Store(next)
	e.notify()
}

func (e *Engine) newSession(model string) models.ChatSession {
	return models.ChatSession{
		ID:        uuid.NewString(),
		Title:     DefaultTitle,
		Messages:  []models.Message{},
		Model:     model,
		CreatedAt: e.now(),
	}
}

func mostRecent(sessions map[string]models.ChatSession) string {
	var best models.ChatSession
	found := false
	for _, s := range sessions {
		if !found || s.CreatedAt > best.CreatedAt || (s.CreatedAt == best.CreatedAt && s.ID < best.ID) {
			best = s
			found = true
		}
	}
	return best.ID
}

// requestSave schedules a write of the latest snapshot. Requests made while a write is
// pending are merged into it.
func (e *Engine) requestSave() {
	select {
	case e.saveReq <- struct{}{}:
	default:
	}
}

func (e *Engine) saver() {
	defer close(e.saverDone)
	for {
		select {
		case <-e.saveReq:
			e.save()
		case <-e.stopSaver:
			e.save()
			return
		}
	}
}

func (e *Engine) save() {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := e.store.Save(ctx, e.snap.Load().Sessions); err != nil {
		// Losing the latest save beats blocking the chat.
		log.Printf("WARN [Engine] Failed to persist sessions: %v", err)
	}
}
