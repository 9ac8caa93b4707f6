package cmd

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/jfmyers9/newsreel/internal/control"
	"github.com/jfmyers9/newsreel/internal/notify"
)

// nowCmd represents the now command
var nowCmd = &cobra.Command{
	Use:   "now",
	Short: "Display what the running player is playing",
	Long: `Ask the running player for its state and print a status line.

The output format can be customized in ~/.config/newsreel/config.yaml
(output_format) using a Go template. Available fields: .Title, .Position,
.Duration, .State, .URL, .Playing

Exit codes:
  0 - A track is loaded (playing or paused)
  1 - Nothing loaded, or no player running`,
	Args: cobra.NoArgs,
	RunE: runNow,
}

func init() {
	rootCmd.AddCommand(nowCmd)

	// Add format flag to override config
	nowCmd.Flags().StringP("format", "f", "", "Output format template (overrides config)")
	// Add width flag to set fixed output width
	nowCmd.Flags().IntP("width", "w", 0, "Fixed output width (0=disabled)")
}

// nowView is the data the output template sees
type nowView struct {
	Title    string
	Position string // MM:SS
	Duration string // MM:SS
	State    string
	URL      string
	Playing  bool
}

func newNowView(st control.Status) nowView {
	return nowView{
		Title:    st.Title,
		Position: notify.FormatTime(st.Position()),
		Duration: notify.FormatTime(st.Duration()),
		State:    st.Phase,
		URL:      st.TrackURL,
		Playing:  st.IsPlaying,
	}
}

func runNow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Check for format flag override
	formatFlag, _ := cmd.Flags().GetString("format")
	if formatFlag != "" {
		cfg.OutputFormat = formatFlag
	}

	st, err := sendRequest(cfg, control.Request{Op: control.OpStatus})
	if err != nil || !st.Loaded() {
		// No player or nothing loaded: print nothing so status lines stay empty
		os.Exit(1)
		return nil
	}

	output, err := formatStatus(newNowView(st), cfg.OutputFormat)
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}

	width, _ := cmd.Flags().GetInt("width")
	if width > 0 {
		output = padToWidth(output, width)
	}

	fmt.Println(output)
	return nil
}

// formatStatus applies the template to the status
func formatStatus(view nowView, templateStr string) (string, error) {
	tmpl, err := template.New("output").Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("invalid template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("template execution failed: %w", err)
	}

	return buf.String(), nil
}

// padToWidth pads or truncates text to a fixed display width.
// Width is measured in display columns, accounting for Unicode characters.
// If width <= 0, returns text unchanged.
func padToWidth(text string, width int) string {
	if width <= 0 {
		return text
	}

	const ellipsis = "..."
	currentWidth := runewidth.StringWidth(text)

	switch {
	case currentWidth > width:
		if width <= len(ellipsis) {
			return runewidth.Truncate(ellipsis, width, "")
		}
		// Wide runes can leave the cut one column short
		return runewidth.FillRight(runewidth.Truncate(text, width, ellipsis), width)
	case currentWidth < width:
		return text + strings.Repeat(" ", width-currentWidth)
	default:
		return text
	}
}
