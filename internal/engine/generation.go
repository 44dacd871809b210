package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"unicode/utf8"

	"threadai-backend/internal/models"

	"github.com/google/uuid"
)

const defaultTitleRunes = 30

// Submit sends a user message with optional files on the active session.
//
// When the session is idle the files are uploaded one after another (a failed upload is
// skipped), the user message and an empty assistant placeholder are appended, and the
// response streams in the background. When a generation is already running the message is
// queued if auto-send is on and dropped otherwise. Cancelling ctx before Submit returns
// cancels the generation like Stop.
func (e *Engine) Submit(ctx context.Context, content string, files []models.RawFile) error {
	if strings.TrimSpace(content) == "" && len(files) == 0 {
		return nil
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	snap := e.snap.Load()
	s, ok := snap.Sessions[snap.ActiveID]
	if !ok {
		e.mu.Unlock()
		return ErrNoSession
	}
	if _, busy := e.gens[s.ID]; busy {
		defer e.mu.Unlock()
		if !snap.AutoSend {
			log.Printf("[Engine] Dropping submission on busy session %s (auto-send off)", s.ID)
			return nil
		}
		e.queues[s.ID] = append(e.queues[s.ID], models.QueuedMessage{
			ID:             uuid.NewString(),
			Content:        content,
			AttachmentsRaw: files,
		})
		log.Printf("[Engine] Queued message for session %s (%d waiting)", s.ID, len(e.queues[s.ID]))
		e.notify()
		return nil
	}
	gen := e.beginLocked(s.ID, s.Model)
	e.wg.Add(1)
	e.mu.Unlock()

	stop := context.AfterFunc(ctx, gen.cancel)
	apiMessages := e.prepare(gen, content, files)
	stop()

	go e.run(gen, apiMessages)
	return nil
}

// beginLocked registers a new generation for a session. e.mu must be held.
func (e *Engine) beginLocked(sessionID, model string) *generation {
	ctx, cancel := context.WithCancel(e.ctx)
	gen := &generation{
		sessionID: sessionID,
		model:     model,
		ctx:       ctx,
		cancel:    cancel,
		state:     Generating,
		tail:      -1,
	}
	e.gens[sessionID] = gen
	e.notify()
	return gen
}

// run streams gen and then every queued message of its session, one at a time.
func (e *Engine) run(gen *generation, apiMessages []models.ChatMessage) {
	defer e.wg.Done()
	for {
		e.stream(gen, apiMessages)

		next, queued := e.finish(gen)
		e.requestSave()
		if next == nil {
			e.maybeTitle(gen.sessionID)
			return
		}

		log.Printf("[Engine] Sending queued message %s on session %s", queued.ID, next.sessionID)
		apiMessages = e.prepare(next, queued.Content, queued.AttachmentsRaw)
		gen = next
	}
}

// prepare uploads files, appends the user turn and the assistant placeholder, and returns
// the messages to send upstream. Returns nil when the session disappeared meanwhile.
func (e *Engine) prepare(gen *generation, content string, files []models.RawFile) []models.ChatMessage {
	attachments := make([]models.Attachment, 0, len(files))
	for _, f := range files {
		uploaded, err := e.transport.Upload(gen.ctx, f)
		if err != nil {
			log.Printf("WARN [Engine] Skipping attachment %s: upload failed: %v", f.Name, err)
			continue
		}
		if uploaded.Content == "" {
			log.Printf("[Engine] Attachment %s has no text content, not attaching", f.Name)
			continue
		}
		name := uploaded.OriginalName
		if name == "" {
			name = f.Name
		}
		attachments = append(attachments, models.Attachment{
			Name:          name,
			MimeType:      uploaded.MimeType,
			ExtractedText: uploaded.Content,
		})
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	snap := e.snap.Load()
	s, ok := snap.Sessions[gen.sessionID]
	if !ok || e.gens[gen.sessionID] != gen {
		return nil
	}

	user := models.Message{Role: models.RoleUser, Content: content, Attachments: attachments}
	apiMessages := make([]models.ChatMessage, 0, len(s.Messages)+1)
	for _, m := range s.Messages {
		apiMessages = append(apiMessages, toChatMessage(m))
	}
	apiMessages = append(apiMessages, toChatMessage(user))

	if s.Title == DefaultTitle && s.UserTurns() == 0 && strings.TrimSpace(content) != "" {
		s.Title = defaultTitle(content)
	}
	msgs := make([]models.Message, 0, len(s.Messages)+2)
	msgs = append(msgs, s.Messages...)
	msgs = append(msgs, user, models.Message{Role: models.RoleAssistant})
	s.Messages = msgs
	s.CreatedAt = e.now()
	gen.tail = len(msgs) - 1

	e.publishLocked(func(next *Snapshot) { next.Sessions[s.ID] = s })
	e.requestSave()
	return apiMessages
}

// stream opens the chat stream and applies its frames to the placeholder.
func (e *Engine) stream(gen *generation, apiMessages []models.ChatMessage) {
	if apiMessages == nil || gen.ctx.Err() != nil {
		return
	}

	frames, err := e.transport.Chat(gen.ctx, gen.model, apiMessages)
	if err != nil {
		e.fail(gen, err)
		return
	}
	defer frames.Close()

	var content, reasoning strings.Builder
	for {
		frame, err := frames.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			e.fail(gen, err)
			return
		}

		switch frame.Type {
		case models.FrameReasoning:
			reasoning.WriteString(frame.Text)
		case models.FrameContent:
			content.WriteString(frame.Text)
		case models.FrameError:
			e.fail(gen, fmt.Errorf("%s: %s", frame.Text, frame.Details))
			return
		default:
			continue
		}

		e.replaceTail(gen, models.Message{
			Role:      models.RoleAssistant,
			Content:   content.String(),
			Reasoning: reasoning.String(),
		})
	}
}

// fail turns the placeholder into the error marker. Cancellation is not a failure: the
// partial answer stays as it is.
func (e *Engine) fail(gen *generation, err error) {
	if gen.ctx.Err() != nil {
		log.Printf("[Engine] Generation for session %s stopped: %v", gen.sessionID, err)
		return
	}
	log.Printf("ERROR [Engine] Generation for session %s failed: %v", gen.sessionID, err)
	e.replaceTail(gen, models.Message{Role: models.RoleAssistant, Content: ErrorMarker})
}

// replaceTail swaps the placeholder for msg unless gen was cancelled or superseded.
func (e *Engine) replaceTail(gen *generation, msg models.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if gen.ctx.Err() != nil || e.gens[gen.sessionID] != gen {
		return
	}
	s, ok := e.snap.Load().Sessions[gen.sessionID]
	if !ok || gen.tail < 0 || gen.tail >= len(s.Messages) {
		return
	}
	msgs := models.CloneMessages(s.Messages)
	msgs[gen.tail] = msg
	s.Messages = msgs
	s.CreatedAt = e.now()
	e.publishLocked(func(next *Snapshot) { next.Sessions[s.ID] = s })
}

// finish ends gen and, in the same critical section, starts the next queued message if
// there is one.
func (e *Engine) finish(gen *generation) (*generation, models.QueuedMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()

	gen.cancel()
	if e.gens[gen.sessionID] != gen {
		// Deleted (or closed) while running.
		return nil, models.QueuedMessage{}
	}
	delete(e.gens, gen.sessionID)

	s, ok := e.snap.Load().Sessions[gen.sessionID]
	if !ok {
		e.notify()
		return nil, models.QueuedMessage{}
	}
	s.CreatedAt = e.now()
	e.publishLocked(func(next *Snapshot) { next.Sessions[s.ID] = s })

	q := e.queues[gen.sessionID]
	if len(q) == 0 || e.closed {
		return nil, models.QueuedMessage{}
	}
	queued := q[0]
	if len(q) == 1 {
		delete(e.queues, gen.sessionID)
	} else {
		e.queues[gen.sessionID] = q[1:]
	}
	return e.beginLocked(gen.sessionID, s.Model), queued
}

// maybeTitle requests an automatic title once a session has two exchanges. The session is
// marked before the request so it is never asked twice; a failed request leaves the title as is.
func (e *Engine) maybeTitle(sessionID string) {
	e.mu.Lock()
	s, ok := e.snap.Load().Sessions[sessionID]
	_, busy := e.gens[sessionID]
	if !ok || busy || e.closed || s.TitleLocked || s.UserTurns() < 2 || len(s.Messages) < 4 {
		e.mu.Unlock()
		return
	}
	s.TitleLocked = true
	s.CreatedAt = e.now()
	e.publishLocked(func(next *Snapshot) { next.Sessions[s.ID] = s })

	opening := make([]models.ChatMessage, 0, titleContextMessages)
	for _, m := range s.Messages[:titleContextMessages] {
		opening = append(opening, models.ChatMessage{Role: m.Role, Content: m.Content})
	}
	model := s.Model
	e.wg.Add(1)
	e.mu.Unlock()

	e.requestSave()
	go e.generateTitle(sessionID, model, opening)
}

func (e *Engine) generateTitle(sessionID, model string, messages []models.ChatMessage) {
	defer e.wg.Done()

	ctx, cancel := context.WithTimeout(e.ctx, titleTimeout)
	defer cancel()
	title, err := e.transport.Title(ctx, model, messages)
	if err != nil {
		log.Printf("WARN [Engine] Title generation for session %s failed: %v", sessionID, err)
		return
	}
	title = strings.TrimSpace(title)
	if title == "" {
		log.Printf("WARN [Engine] Title generation for session %s returned nothing", sessionID)
		return
	}

	e.mu.Lock()
	s, ok := e.snap.Load().Sessions[sessionID]
	if !ok {
		e.mu.Unlock()
		return
	}
	s.Title = title
	s.CreatedAt = e.now()
	e.publishLocked(func(next *Snapshot) { next.Sessions[s.ID] = s })
	e.mu.Unlock()

	log.Printf("[Engine] Titled session %s: %q", sessionID, title)
	e.requestSave()
}

// toChatMessage converts a stored turn to what the model sees: user turns carry their
// attachment text after the typed content.
func toChatMessage(m models.Message) models.ChatMessage {
	if m.Role != models.RoleUser || len(m.Attachments) == 0 {
		return models.ChatMessage{Role: m.Role, Content: m.Content}
	}
	var b strings.Builder
	b.WriteString(m.Content)
	for _, a := range m.Attachments {
		if a.ExtractedText == "" {
			continue
		}
		fmt.Fprintf(&b, "\n\n[File: %s]\n%s\n", a.Name, a.ExtractedText)
	}
	return models.ChatMessage{Role: m.Role, Content: b.String()}
}

func defaultTitle(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(content) <= defaultTitleRunes {
		return content
	}
	runes := []rune(content)
	return strings.TrimSpace(string(runes[:defaultTitleRunes])) + "..."
}
