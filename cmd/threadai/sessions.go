package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"threadai-backend/internal/engine"
	"threadai-backend/internal/export"
	"threadai-backend/internal/models"

	"github.com/spf13/cobra"
)

var (
	exportFormat string
	exportOutput string
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"list", "ls"},
	Short:   "List saved conversations, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.checkReadable(cmd.Context()); err != nil {
			return err
		}
		stored, err := a.store.Load(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to load sessions: %w", err)
		}
		printSessions(cmd.OutOrStdout(), engine.SortSessions(stored), "")
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <number|id>",
	Short: "Export one conversation as markdown, JSON or YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.checkReadable(cmd.Context()); err != nil {
			return err
		}
		stored, err := a.store.Load(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to load sessions: %w", err)
		}
		session, ok := findSession(engine.SortSessions(stored), args[0])
		if !ok {
			return fmt.Errorf("no conversation %q", args[0])
		}

		exp, err := export.NewExporter(exportFormat)
		if err != nil {
			return err
		}
		if exportOutput == "" {
			return exp.Export(session, cmd.OutOrStdout())
		}
		f, err := os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", exportOutput, err)
		}
		defer f.Close()
		if err := exp.Export(session, f); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %q to %s\n", session.Title, exportOutput)
		return nil
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models offered by the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		list, err := a.client.Models(cmd.Context())
		if err != nil {
			return err
		}
		printModels(cmd.OutOrStdout(), list, "")
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "md", "Export format: md, json or yaml")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to a file instead of stdout")
}

func printSessions(out io.Writer, sessions []models.ChatSession, activeID string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tTITLE\tMODEL\tMESSAGES\tLAST ACTIVE")
	for i, s := range sessions {
		marker := " "
		if s.ID == activeID {
			marker = "*"
		}
		fmt.Fprintf(w, "%s%d\t%s\t%s\t%d\t%s\n",
			marker, i+1, titleStyle.Render(s.Title), s.Model, len(s.Messages),
			dimStyle.Render(time.UnixMilli(s.CreatedAt).Format("2006-01-02 15:04")))
	}
	w.Flush()
}

func printModels(out io.Writer, list []models.ModelInfo, current string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPROVIDER\tREASONING\tAVAILABLE")
	for _, m := range list {
		id := m.ID
		if id == current {
			id = accentStyle.Render(id)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\n", id, m.Name, m.Provider, m.SupportsReasoning, m.Available)
	}
	w.Flush()
}

// findSession accepts a 1-based position in the listing or a session id.
func findSession(sessions []models.ChatSession, ref string) (models.ChatSession, bool) {
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(sessions) {
		return sessions[n-1], true
	}
	for _, s := range sessions {
		if s.ID == ref {
			return s, true
		}
	}
	return models.ChatSession{}, false
}
