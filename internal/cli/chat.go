package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ppiankov/groundwork/internal/metrics"
	"github.com/ppiankov/groundwork/internal/persona"
)

var (
	chatNoStream    bool
	chatMetricsAddr string
)

// chatCmd represents the chat command
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive multi-turn session",
	Long: `Chat keeps one session open so follow-up questions see the earlier turns.

Commands inside the session:
  /reset            clear the conversation history
  /persona <name>   switch persona for the rest of the session
  /exit             leave

Example:
  groundwork chat
  groundwork chat --persona intermediate --metrics-addr :9090`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().BoolVar(&chatNoStream, "no-stream", false, "wait for the full answer instead of streaming")
	chatCmd.Flags().StringVar(&chatMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	chatCmd.Flags().StringVar(&sessionFlag, "session", "", "session id to resume (default: a new session)")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if chatMetricsAddr != "" {
		stop := serveMetrics(chatMetricsAddr)
		defer stop()
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	sessionID := sessionFlag
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	fmt.Fprintf(os.Stderr, "Session %s (persona: %s). Type /exit to leave.\n\n", sessionID, cfg.Pipeline.Persona)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(os.Stderr, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue
		case line == "/exit" || line == "/quit":
			return nil
		case line == "/reset":
			if err := a.ctl.Reset(ctx, sessionID); err != nil {
				fmt.Fprintf(os.Stderr, "✗ reset failed: %v\n", err)
				continue
			}
			fmt.Fprintln(os.Stderr, "✓ history cleared")
			continue
		case strings.HasPrefix(line, "/persona"):
			name := strings.TrimSpace(strings.TrimPrefix(line, "/persona"))
			if name == "" {
				fmt.Fprintf(os.Stderr, "available personas: %s\n", strings.Join(persona.Names(), ", "))
				continue
			}
			if err := a.ctl.Configure(ctx, sessionID, name, nil); err != nil {
				fmt.Fprintf(os.Stderr, "✗ %v\n", err)
				continue
			}
			fmt.Fprintf(os.Stderr, "✓ persona set to %s\n", strings.ToLower(name))
			continue
		}

		if chatNoStream {
			ans, err := a.ctl.Generate(ctx, line, sessionID, false)
			if err != nil {
				fmt.Fprintf(os.Stderr, "✗ %v\n", err)
				continue
			}
			printAnswer(out, ans.Text, ans.CitedSources)
		} else if err := a.ctl.Stream(ctx, line, sessionID, false, streamPrinter(out, false)); err != nil {
			fmt.Fprintf(os.Stderr, "✗ %v\n", err)
		}
		fmt.Fprintln(out)

		if ctx.Err() != nil {
			return nil
		}
	}
	return scanner.Err()
}

// serveMetrics exposes /metrics until the returned function is called
func serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "✗ metrics server: %v\n", err)
		}
	}()
	fmt.Fprintf(os.Stderr, "Serving metrics on %s/metrics\n", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
