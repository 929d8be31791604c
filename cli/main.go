// Package main provides a command-line client for the generation bridge.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sreedath/simplepaperbanana/internal/domain"
)

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "paperbanana-cli",
		Short:        "Generate paper diagrams and follow their progress",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "Bridge base URL")
	rootCmd.PersistentFlags().String("api-key", os.Getenv("GOOGLE_API_KEY"), "Pipeline API key")

	rootCmd.AddCommand(newGenerateCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newWatchCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func clientFrom(cmd *cobra.Command) *Client {
	server, _ := cmd.Flags().GetString("server")
	apiKey, _ := cmd.Flags().GetString("api-key")
	return NewClient(server, apiKey)
}

func newGenerateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Start a run and follow it to completion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sourcePath, _ := cmd.Flags().GetString("source")
			intent, _ := cmd.Flags().GetString("intent")
			source, err := os.ReadFile(sourcePath)
			if err != nil {
				return fmt.Errorf("failed to read source: %w", err)
			}
			diagramType, _ := cmd.Flags().GetString("type")
			iterations, _ := cmd.Flags().GetInt("iterations")
			useWS, _ := cmd.Flags().GetBool("ws")

			client := clientFrom(cmd)
			resp, err := client.Generate(cmd.Context(), domain.GenerationRequest{
				SourceContext:       string(source),
				CommunicativeIntent: intent,
				DiagramType:         domain.DiagramType(diagramType),
				Iterations:          iterations,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Created run %s\n", resp.RunID)

			return follow(cmd.Context(), client, resp.RunID, 0, useWS)
		},
	}

	cmd.Flags().StringP("source", "s", "", "File holding the paper text to illustrate")
	cmd.Flags().StringP("intent", "i", "", "What the diagram should communicate")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("intent")
	cmd.Flags().String("type", string(domain.DiagramTypeMethodology), "Diagram type (methodology, statistical_plot)")
	cmd.Flags().IntP("iterations", "n", 0, "Refinement iterations (server default when 0)")
	cmd.Flags().Bool("ws", false, "Follow over WebSocket instead of SSE")
	return cmd
}

func newWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <run-id>",
		Short: "Follow an existing run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cursor, _ := cmd.Flags().GetInt64("cursor")
			useWS, _ := cmd.Flags().GetBool("ws")
			return follow(cmd.Context(), clientFrom(cmd), args[0], cursor, useWS)
		},
	}

	cmd.Flags().Int64("cursor", 0, "Only show events after this sequence")
	cmd.Flags().Bool("ws", false, "Follow over WebSocket instead of SSE")
	return cmd
}

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show a run's status and events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cursor, _ := cmd.Flags().GetInt64("cursor")
			asJSON, _ := cmd.Flags().GetBool("json")

			poll, err := clientFrom(cmd).Poll(cmd.Context(), args[0], cursor)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(poll)
			}

			fmt.Fprintf(stdout, "Run %s: %s\n", poll.RunID, poll.Status)
			for _, evt := range poll.Events {
				printEvent(stdout, evt)
			}
			printOutcome(stdout, poll)
			return nil
		},
	}

	cmd.Flags().Int64("cursor", 0, "Only show events after this sequence")
	cmd.Flags().Bool("json", false, "Print the raw poll response")
	return cmd
}

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			runs, err := clientFrom(cmd).List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(stdout, "No runs found")
				return nil
			}

			w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tTYPE\tCREATED")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.RunID, r.Status, r.DiagramType, r.CreatedAt.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntP("limit", "l", 20, "Maximum runs to show")
	return cmd
}

func follow(ctx context.Context, client *Client, runID string, cursor int64, useWS bool) error {
	poll, err := client.Follow(ctx, runID, cursor, useWS, func(evt domain.Event) {
		printEvent(stdout, evt)
	})
	if err != nil {
		return err
	}
	printOutcome(stdout, poll)
	if poll.Status == domain.RunStatusFailed {
		return fmt.Errorf("run %s failed", runID)
	}
	return nil
}
