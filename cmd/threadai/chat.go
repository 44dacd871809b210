package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"threadai-backend/internal/engine"
	"threadai-backend/internal/export"
	"threadai-backend/internal/models"

	"github.com/spf13/cobra"
)

const helpText = `Commands:
  /new                 start a new conversation
  /list                list conversations
  /select <n|id>       switch conversation
  /delete [n|id]       delete a conversation (default: current)
  /history             show the current conversation
  /undo <n>            remove message n and everything after it
  /model [id]          show or switch the model
  /models              list models offered by the server
  /attach <path>       attach a file to the next message
  /stop                stop the current response (also Ctrl-C)
  /autosend on|off     queue messages typed while a response is streaming
  /queue               show queued messages
  /unqueue <n>         drop queued message n
  /export <fmt> [file] export the current conversation (md, json, yaml)
  /quit                exit`

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start the interactive chat (default command)",
	RunE:  runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	eng, err := a.startEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	out := cmd.OutOrStdout()
	repl := &repl{
		out:      out,
		engine:   eng,
		app:      a,
		renderer: newRenderer(out, eng),
	}
	return repl.run(ctx, cmd.InOrStdin())
}

type repl struct {
	out      io.Writer
	engine   *engine.Engine
	app      *app
	renderer *renderer
	pending  []models.RawFile
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	updates, unsubscribe := r.engine.Subscribe()
	defer unsubscribe()

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), 1<<20)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	r.banner()
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				r.engine.Wait()
				r.renderer.render()
				return nil
			}
			quit, err := r.handle(ctx, line)
			if err != nil {
				fmt.Fprintln(r.out, errorStyle.Render(err.Error()))
			}
			if quit {
				return nil
			}
		case <-updates:
			r.renderer.render()
		case <-interrupts:
			if r.engine.State() == engine.Idle {
				return nil
			}
			r.engine.Stop()
		}
	}
}

func (r *repl) banner() {
	s, _ := r.engine.Active()
	fmt.Fprintf(r.out, "%s  %s\n", titleStyle.Render(s.Title), dimStyle.Render("model "+s.Model+" · /help for commands"))
}

func (r *repl) handle(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		if r.engine.State() != engine.Idle && !r.engine.AutoSend() {
			return false, errors.New("a response is streaming; /stop it or enable /autosend")
		}
		files := r.pending
		r.pending = nil
		return false, r.engine.Submit(ctx, line, files)
	}

	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]
	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(r.out, helpText)
	case "/new":
		if _, err := r.engine.NewChat(); err != nil {
			return false, err
		}
		r.renderer.reset()
		r.banner()
	case "/list":
		printSessions(r.out, r.engine.Sessions(), r.engine.Snapshot().ActiveID)
	case "/select":
		if len(args) != 1 {
			return false, errors.New("usage: /select <n|id>")
		}
		s, ok := findSession(r.engine.Sessions(), args[0])
		if !ok {
			return false, engine.ErrNoSession
		}
		if err := r.engine.Select(s.ID); err != nil {
			return false, err
		}
		r.renderer.reset()
		r.banner()
	case "/delete":
		id := r.engine.Snapshot().ActiveID
		if len(args) == 1 {
			s, ok := findSession(r.engine.Sessions(), args[0])
			if !ok {
				return false, engine.ErrNoSession
			}
			id = s.ID
		}
		if err := r.engine.Delete(id); err != nil {
			return false, err
		}
		r.renderer.reset()
		r.banner()
	case "/history":
		r.history()
	case "/undo":
		if len(args) != 1 {
			return false, errors.New("usage: /undo <n>")
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return false, fmt.Errorf("invalid message number %q", args[0])
		}
		if err := r.engine.Undo(n - 1); err != nil {
			return false, err
		}
		r.renderer.reset()
	case "/model":
		if len(args) == 0 {
			s, _ := r.engine.Active()
			fmt.Fprintln(r.out, s.Model)
			return false, nil
		}
		return false, r.engine.SetModel(args[0])
	case "/models":
		list, err := r.app.client.Models(ctx)
		if err != nil {
			return false, err
		}
		s, _ := r.engine.Active()
		printModels(r.out, list, s.Model)
	case "/attach":
		if len(args) != 1 {
			return false, errors.New("usage: /attach <path>")
		}
		f, err := readAttachment(args[0])
		if err != nil {
			return false, err
		}
		r.pending = append(r.pending, f)
		fmt.Fprintln(r.out, dimStyle.Render(fmt.Sprintf("attached %s (%d bytes) to the next message", f.Name, len(f.Data))))
	case "/stop":
		r.engine.Stop()
	case "/autosend":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			return false, errors.New("usage: /autosend on|off")
		}
		r.engine.SetAutoSend(args[0] == "on")
	case "/queue":
		for i, q := range r.engine.Queue() {
			fmt.Fprintf(r.out, "%d. %s (%d files)\n", i+1, q.Content, len(q.AttachmentsRaw))
		}
	case "/unqueue":
		q := r.engine.Queue()
		n, err := strconv.Atoi(strings.Join(args, ""))
		if err != nil || n < 1 || n > len(q) {
			return false, errors.New("usage: /unqueue <n>")
		}
		r.engine.RemoveQueued(q[n-1].ID)
	case "/export":
		if len(args) < 1 {
			return false, errors.New("usage: /export <md|json|yaml> [file]")
		}
		s, _ := r.engine.Active()
		if len(args) == 1 {
			return false, export.Write(r.out, args[0], s)
		}
		f, err := os.Create(args[1])
		if err != nil {
			return false, err
		}
		defer f.Close()
		return false, export.Write(f, args[0], s)
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", name)
	}
	return false, nil
}

func (r *repl) history() {
	s, _ := r.engine.Active()
	fmt.Fprintln(r.out, titleStyle.Render(s.Title))
	for i, m := range s.Messages {
		who := promptStyle.Render("you")
		if m.Role == models.RoleAssistant {
			who = accentStyle.Render(s.Model)
		}
		fmt.Fprintf(r.out, "%s %s\n", dimStyle.Render(fmt.Sprintf("[%d]", i+1)), who)
		if m.Reasoning != "" {
			fmt.Fprintln(r.out, reasoningStyle.Render(m.Reasoning))
		}
		if m.Content == engine.ErrorMarker {
			fmt.Fprintln(r.out, errorStyle.Render(m.Content))
		} else {
			fmt.Fprintln(r.out, m.Content)
		}
		for _, a := range m.Attachments {
			fmt.Fprintln(r.out, dimStyle.Render("  attached: "+a.Name))
		}
	}
}

func readAttachment(path string) (models.RawFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.RawFile{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return models.RawFile{Name: filepath.Base(path), MimeType: mimeType, Data: data}, nil
}
