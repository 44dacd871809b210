package main

import (
	"fmt"
	"io"
	"strings"

	"threadai-backend/internal/engine"
	"threadai-backend/internal/models"
)

// sessionView is the part of the engine the renderer reads.
type sessionView interface {
	Active() (models.ChatSession, bool)
	State() engine.State
}

// renderer prints assistant replies incrementally as the engine publishes them.
type renderer struct {
	out  io.Writer
	view sessionView

	sessionID string
	index     int
	reasoning int    // bytes of reasoning already printed
	content   string // content already printed
	done      bool
}

func newRenderer(out io.Writer, view sessionView) *renderer {
	r := &renderer{out: out, view: view}
	r.reset()
	return r
}

// reset treats the current tail of the active session as already shown.
func (r *renderer) reset() {
	r.done = true
	r.sessionID = ""
	r.index = -1
	if s, ok := r.view.Active(); ok {
		r.sessionID = s.ID
		r.index = len(s.Messages) - 1
	}
}

// render prints whatever changed since the last call.
func (r *renderer) render() {
	// State first: once it reads Idle every delta of the finished reply is in the snapshot.
	state := r.view.State()
	s, ok := r.view.Active()
	if !ok {
		return
	}
	if s.ID != r.sessionID {
		r.reset()
		return
	}

	tail := len(s.Messages) - 1
	if tail != r.index {
		// A reply still open when the next one appears means the next one came from the queue.
		fromQueue := !r.done
		if fromQueue && r.index >= 0 && r.index < len(s.Messages) {
			r.flush(s.Messages[r.index])
			r.finishLine()
		}
		if tail < 0 || s.Messages[tail].Role != models.RoleAssistant {
			r.index = tail
			r.done = true
			return
		}
		if tail > 0 && fromQueue {
			fmt.Fprintf(r.out, "%s %s\n", promptStyle.Render("you (queued) >"), s.Messages[tail-1].Content)
		}
		r.index = tail
		r.reasoning = 0
		r.content = ""
		r.done = false
	}
	if r.done || tail < 0 {
		return
	}

	r.flush(s.Messages[tail])
	if state == engine.Idle {
		r.finishLine()
	}
}

func (r *renderer) flush(m models.Message) {
	if len(m.Reasoning) > r.reasoning {
		fmt.Fprint(r.out, reasoningStyle.Render(m.Reasoning[r.reasoning:]))
		r.reasoning = len(m.Reasoning)
	}

	switch {
	case m.Content == r.content:
	case strings.HasPrefix(m.Content, r.content):
		if r.content == "" && r.reasoning > 0 {
			fmt.Fprint(r.out, "\n\n")
		}
		fmt.Fprint(r.out, m.Content[len(r.content):])
		r.content = m.Content
	default:
		// Replaced wholesale: the generation failed.
		fmt.Fprintf(r.out, "\n%s", errorStyle.Render(m.Content))
		r.content = m.Content
	}
}

func (r *renderer) finishLine() {
	if r.content == "" && r.reasoning == 0 {
		fmt.Fprint(r.out, dimStyle.Render("(no response)"))
	}
	fmt.Fprintln(r.out)
	r.done = true
}
