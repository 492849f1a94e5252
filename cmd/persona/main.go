// cmd/persona/main.go
//
// Entry point for the persona CLI. Without a subcommand it opens the
// terminal UI for the current directory. `serve` exposes the same session
// over the local HTTP bridge, `analyze` runs a report non-interactively and
// `health` probes the report service.

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kingrea/persona/internal/tui"
)

var projectDir string

var rootCmd = &cobra.Command{
	Use:   "persona",
	Short: "Personality reports, attachments, chat and speech from the terminal",
	Long: `persona talks to a personality report service. It requests a primary
report for a subject, an extended report built from attached files and links,
answers follow-up questions in a chat and voices every report.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := tui.NewApp(projectDir)
		if err != nil {
			return err
		}
		defer app.Close()

		// tea.NewProgram creates a new bubbletea application
		p := tea.NewProgram(app, tea.WithAltScreen())
		_, err = p.Run()
		return err
	},
}

func init() {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	rootCmd.PersistentFlags().StringVarP(&projectDir, "dir", "C", cwd, "project directory holding .persona/")
	rootCmd.AddCommand(serveCmd, analyzeCmd, healthCmd)
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
