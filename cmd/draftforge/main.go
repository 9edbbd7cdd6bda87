// Draftforge generates long-form documents through a three-stage LLM
// pipeline: plan the structure, gather evidence, write and grade each
// section.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/draftforge/draftforge/pkg/api"
	"github.com/draftforge/draftforge/pkg/config"
	"github.com/draftforge/draftforge/pkg/llm"
	"github.com/draftforge/draftforge/pkg/pipeline"
	"github.com/draftforge/draftforge/pkg/plan"
	"github.com/draftforge/draftforge/pkg/progress"
	"github.com/draftforge/draftforge/pkg/ratelimit"
	"github.com/draftforge/draftforge/pkg/retrieval"
	"github.com/draftforge/draftforge/pkg/store"
	"github.com/draftforge/draftforge/pkg/version"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if err := rootCmd().Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configDir string

	root := &cobra.Command{
		Use:           "draftforge",
		Short:         "LLM-driven long-document generation pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			envPath := filepath.Join(configDir, ".env")
			if err := godotenv.Load(envPath); err != nil {
				slog.Debug("No .env file loaded", "path", envPath)
			} else {
				slog.Info("Loaded environment", "path", envPath)
			}
		},
	}
	root.PersistentFlags().StringVar(&configDir, "config", ".", "configuration directory")

	root.AddCommand(generateCmd(&configDir))
	root.AddCommand(serveCmd(&configDir))
	return root
}

// buildPipeline wires the full stack from configuration: rate limiter,
// tracker, LLM and retrieval clients, stage agents.
func buildPipeline(configDir string, reg prometheus.Registerer) (*pipeline.Pipeline, *progress.Tracker, error) {
	cfg, err := config.Initialize(configDir)
	if err != nil {
		return nil, nil, err
	}

	tracker := progress.NewTracker(reg)
	limiter := ratelimit.New(cfg.RateLimit.MinSpacing())

	completer, err := llm.NewClient(cfg.LLM, limiter, tracker)
	if err != nil {
		return nil, nil, err
	}
	searcher := retrieval.NewClient(cfg.Retrieval, tracker)

	return pipeline.New(*cfg, completer, searcher, tracker), tracker, nil
}

func generateCmd(configDir *string) *cobra.Command {
	var request, outDir, kind string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Run the pipeline once and write the document to disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Initialize(*configDir)
			if err != nil {
				return err
			}
			if outDir != "" {
				cfg.Output.Dir = outDir
			}
			docKind := plan.DocKind(kind)
			if docKind != "" && !docKind.Valid() {
				return fmt.Errorf("unknown document kind %q", kind)
			}

			tracker := progress.NewTracker(nil)
			limiter := ratelimit.New(cfg.RateLimit.MinSpacing())
			completer, err := llm.NewClient(cfg.LLM, limiter, tracker)
			if err != nil {
				return err
			}
			searcher := retrieval.NewClient(cfg.Retrieval, tracker)
			p := pipeline.New(*cfg, completer, searcher, tracker)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			result, err := p.Run(ctx, request, docKind)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "run:      %s\n", result.RunID)
			fmt.Fprintf(cmd.OutOrStdout(), "document: %s\n", filepath.Join(result.OutDir, pipeline.ArtifactDocument))
			fmt.Fprintf(cmd.OutOrStdout(), "sections: %d/%d completed, mean quality %.2f\n",
				result.Stats.CompletedSections, result.Stats.Sections, result.Stats.MeanQuality)
			for _, f := range result.Summary.Failures {
				fmt.Fprintf(cmd.OutOrStdout(), "degraded: [%s] leaf %s: %s\n", f.Stage, f.LeafID, f.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&request, "request", "", "what to write (required)")
	cmd.Flags().StringVar(&outDir, "out", "", "output directory (overrides config)")
	cmd.Flags().StringVar(&kind, "kind", "", "document kind (technical|user_manual|research|tutorial; default: classified)")
	_ = cmd.MarkFlagRequired("request")
	return cmd
}

func serveCmd(configDir *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the report generation API",
		RunE: func(cmd *cobra.Command, args []string) error {
			slog.Info("Starting server", "version", version.Full())
			reg := prometheus.NewRegistry()
			p, tracker, err := buildPipeline(*configDir, reg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var st *store.Store
			if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
				st, err = store.Open(ctx, dbURL)
				if err != nil {
					return fmt.Errorf("open run store: %w", err)
				}
				defer st.Close()
				slog.Info("Run store enabled")
			} else {
				slog.Info("DATABASE_URL not set, run store disabled")
			}

			server := api.NewServer(p, tracker, st, reg)
			return server.ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}
