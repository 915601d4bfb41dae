package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ppiankov/groundwork/internal/model"
	"github.com/ppiankov/groundwork/internal/worker"
)

var (
	concurrency  int
	outputFile   string
	batchTimeout time.Duration
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Answer many questions from a file in parallel",
	Long: `Batch answers independent questions concurrently:
- Read questions from a text file (one per line) or a YAML list
- Skip blank lines, # comments and duplicates
- Answer each question in its own session
- Write one JSON object per question, in input order

Example:
  groundwork batch questions.txt
  groundwork batch questions.yaml --concurrency 8 --output answers.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVar(&concurrency, "concurrency", runtime.NumCPU(), "number of questions answered at once")
	batchCmd.Flags().StringVar(&outputFile, "output", "", "write JSON lines to this file instead of stdout")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 30*time.Minute, "total timeout for batch processing")
}

func runBatch(cmd *cobra.Command, args []string) (err error) {
	file := args[0]
	ctx, cancel := context.WithTimeout(cmd.Context(), batchTimeout)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Groundwork Batch\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Input file:   %s\n", file)
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", concurrency)
	fmt.Fprintf(os.Stderr, "  Persona:      %s\n", cfg.Pipeline.Persona)
	fmt.Fprintf(os.Stderr, "  Model:        %s/%s\n", cfg.LLM.Provider, cfg.LLM.Model)
	fmt.Fprintf(os.Stderr, "  Timeout:      %v\n", batchTimeout)
	fmt.Fprintf(os.Stderr, "\n")

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var out io.Writer = cmd.OutOrStdout()
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer func() {
			if closeErr := f.Close(); closeErr != nil && err == nil {
				err = fmt.Errorf("close output file: %w", closeErr)
			}
		}()
		out = f
	}

	processor := worker.NewBatchProcessor(a.ctl, concurrency, "batch-"+uuid.NewString()[:8])

	fmt.Fprintf(os.Stderr, "⚙️  Answering questions...\n\n")
	start := time.Now()
	results, err := processor.ProcessFile(ctx, file)
	if err != nil {
		return fmt.Errorf("process file: %w", err)
	}

	enc := json.NewEncoder(out)
	var answered, empty, failed int
	for _, res := range results {
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("write result: %w", err)
		}

		switch {
		case res.Error != "":
			failed++
			fmt.Fprintf(os.Stderr, "✗ %s: %s\n", res.Question, res.Error)
		case res.Answer != nil && res.Answer.Status == model.StatusError:
			failed++
			fmt.Fprintf(os.Stderr, "✗ %s\n", res.Question)
		case res.Answer != nil && res.Answer.Status == model.StatusNoResults:
			empty++
			fmt.Fprintf(os.Stderr, "∅ %s\n", res.Question)
		default:
			answered++
			fmt.Fprintf(os.Stderr, "✓ %s (%d sources)\n", res.Question, len(res.Answer.CitedSources))
		}
	}

	// Summary
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Batch Complete\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Total:       %d questions\n", len(results))
	fmt.Fprintf(os.Stderr, "  Answered:    %d\n", answered)
	fmt.Fprintf(os.Stderr, "  No results:  %d\n", empty)
	fmt.Fprintf(os.Stderr, "  Failures:    %d\n", failed)
	fmt.Fprintf(os.Stderr, "  Elapsed:     %v\n", time.Since(start).Round(time.Millisecond))
	fmt.Fprintf(os.Stderr, "\n")

	return nil
}
