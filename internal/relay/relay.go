// Package relay drives a model adapter's delta stream onto an HTTP event stream.
//
// Wire format, one JSON frame per delta:
//
//	data: {"type":"reasoning","text":"..."}
//	data: {"type":"content","text":"..."}
//	data: [DONE]
//
// Until the first frame is written, failures are reported as a JSON error response with a
// status code. Afterwards the status line is gone, so failures become an in-band
// {"type":"error"} frame followed by the end of the response.
package relay

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"

	"threadai-backend/internal/llm"
	"threadai-backend/internal/models"
	"threadai-backend/pkg/httputil"
	"threadai-backend/pkg/sse"
)

// Resolver finds the adapter for a model id.
type Resolver interface {
	Resolve(modelID string) (llm.Adapter, llm.ModelConfig, error)
}

// Relay serves chat streams.
type Relay struct {
	resolver Resolver
}

// New creates a Relay resolving models through r.
func New(r Resolver) *Relay {
	return &Relay{resolver: r}
}

// Serve streams the completion for req to w. The request context scopes the upstream call:
// when the client goes away the adapter's request is abandoned.
func (rl *Relay) Serve(ctx context.Context, w http.ResponseWriter, req models.ChatRequest) {
	adapter, _, err := rl.resolver.Resolve(req.Model)
	if err != nil {
		log.Printf("WARN [Relay] Cannot serve model '%s': %v", req.Model, err)
		httputil.RespondErrorDetails(w, http.StatusBadRequest, "Model not supported", err.Error())
		return
	}

	out, err := sse.NewWriter(w)
	if err != nil {
		httputil.RespondError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	stream, err := adapter.Stream(ctx, req.Model, req.Messages)
	if err != nil {
		rl.fail(ctx, out, w, err)
		return
	}
	defer stream.Close()

	frames := 0
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			rl.fail(ctx, out, w, err)
			return
		}

		frame := models.StreamFrame{Type: frameType(delta.Kind), Text: delta.Text}
		if err := out.WriteJSON(frame); err != nil {
			log.Printf("WARN [Relay] Client write failed after %d frames, abandoning stream: %v", frames, err)
			return
		}
		frames++
	}

	if err := out.WriteData([]byte(models.DoneSentinel)); err != nil {
		log.Printf("WARN [Relay] Failed to write done sentinel: %v", err)
		return
	}
	log.Printf("[Relay] Completed stream for model %s (%d frames)", req.Model, frames)
}

func (rl *Relay) fail(ctx context.Context, out *sse.Writer, w http.ResponseWriter, err error) {
	if ctx.Err() != nil {
		log.Printf("[Relay] Client disconnected, stream cancelled: %v", ctx.Err())
		return
	}

	log.Printf("ERROR [Relay] Chat error: %v", err)
	if !out.Started() {
		httputil.RespondErrorDetails(w, http.StatusInternalServerError, "Internal server error", err.Error())
		return
	}

	frame := models.StreamFrame{Type: models.FrameError, Text: "Internal server error", Details: err.Error()}
	if werr := out.WriteJSON(frame); werr != nil {
		log.Printf("WARN [Relay] Failed to write error frame: %v", werr)
	}
}

func frameType(kind llm.DeltaKind) models.FrameType {
	if kind == llm.KindReasoning {
		return models.FrameReasoning
	}
	return models.FrameContent
}
