package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jfmyers9/newsreel/internal/history"
	"github.com/jfmyers9/newsreel/internal/notify"
)

const defaultTerminalWidth = 100

var (
	historyLimit int
	historyPrune time.Duration
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently played articles",
	Long: `Show the listening history, newest first, with how far each article
was listened to.

Use --prune to delete listens older than a given age, e.g. --prune 720h.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of listens to show (0 = all)")
	historyCmd.Flags().DurationVar(&historyPrune, "prune", 0, "Delete listens older than this before listing")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := history.NewStore(cfg.HistoryPath())
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if historyPrune > 0 {
		n, err := store.Cleanup(ctx, historyPrune)
		if err != nil {
			return fmt.Errorf("failed to prune history: %w", err)
		}
		fmt.Printf("Pruned %d listens\n", n)
	}

	listens, err := store.Recent(ctx, historyLimit)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	if len(listens) == 0 {
		fmt.Println("No listens yet")
		return nil
	}

	renderHistory(os.Stdout, listens, terminalWidth())
	return nil
}

// terminalWidth returns the terminal width, or a default if unavailable
func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return defaultTerminalWidth
	}
	return width
}

// renderHistory writes listens as a table fitted to width
func renderHistory(w io.Writer, listens []history.Listen, width int) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetAllowedRowLength(width)
	t.AppendHeader(table.Row{"#", "Title", "Progress", "Done", "Last played"})

	// #=5, Progress=15, Done=4, Last played=16, borders/padding ~16
	titleWidth := width - (5 + 15 + 4 + 16 + 16)
	if titleWidth < 20 {
		titleWidth = 20
	}
	if titleWidth > 80 {
		titleWidth = 80
	}

	for _, l := range listens {
		done := ""
		if l.Completed {
			done = "✓"
		}
		t.AppendRow(table.Row{
			l.ID,
			runewidth.Truncate(l.Title, titleWidth, "…"),
			notify.Progress(l.Position, l.Duration),
			done,
			l.UpdatedAt.Local().Format("2006-01-02 15:04"),
		})
	}

	t.Render()
}
