package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/groundwork/internal/model"
)

var (
	askStream bool
	askJSON   bool
)

// askCmd represents the ask command
var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a single question",
	Long: `Ask retrieves passages for the question, drafts an answer and prints it
with its cited sources.

Example:
  groundwork ask "How do I reset my password?"
  groundwork ask "How do I reset my password?" --stream
  groundwork ask "What changed in v2?" --persona scientist --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)

	askCmd.Flags().BoolVar(&askStream, "stream", false, "print the answer as it is generated")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the result as JSON")
	askCmd.Flags().StringVar(&sessionFlag, "session", "", "session id to continue (default: a new session)")
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	question := strings.Join(args, " ")
	out := cmd.OutOrStdout()

	if askStream {
		return a.ctl.Stream(ctx, question, sessionFlag, false, streamPrinter(out, askJSON))
	}

	ans, err := a.ctl.Generate(ctx, question, sessionFlag, false)
	if err != nil {
		return err
	}
	if askJSON {
		return writeJSON(out, ans)
	}
	printAnswer(out, ans.Text, ans.CitedSources)
	if ans.Status == model.StatusError {
		return fmt.Errorf("answer failed")
	}
	return nil
}

// streamPrinter writes chunks as they arrive. In JSON mode every event is
// one line of JSON.
func streamPrinter(out io.Writer, asJSON bool) func(model.StreamEvent) error {
	enc := json.NewEncoder(out)
	return func(ev model.StreamEvent) error {
		if asJSON {
			return enc.Encode(ev)
		}
		switch ev.Type {
		case model.EventChunk:
			_, err := fmt.Fprint(out, ev.Text)
			return err
		case model.EventReplace:
			_, err := fmt.Fprintf(out, "\n\n--- revised answer ---\n%s", ev.Text)
			return err
		case model.EventMetadata:
			fmt.Fprintln(out)
			if ev.Metadata != nil {
				printSources(out, ev.Metadata.Sources)
				if ev.Metadata.Failed {
					fmt.Fprintf(os.Stderr, "✗ answer failed (query %s)\n", ev.Metadata.QueryID)
				}
			}
		}
		return nil
	}
}

func printAnswer(out io.Writer, text string, sources []model.CitedSource) {
	fmt.Fprintln(out, text)
	printSources(out, sources)
}

func printSources(out io.Writer, sources []model.CitedSource) {
	if len(sources) == 0 {
		return
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Sources:")
	for _, s := range sources {
		if s.URL != "" {
			fmt.Fprintf(out, "  [%s] %s (%s)\n", s.ID, s.Title, s.URL)
			continue
		}
		fmt.Fprintf(out, "  [%s] %s\n", s.ID, s.Title)
	}
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode JSON: %w", err)
	}
	return nil
}
