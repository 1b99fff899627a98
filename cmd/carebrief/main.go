package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/carebrief/config"
	core "github.com/mohammad-safakhou/carebrief/internal/agent/core"
	"github.com/mohammad-safakhou/carebrief/internal/agent/qa"
	"github.com/mohammad-safakhou/carebrief/internal/agent/telemetry"
	"github.com/mohammad-safakhou/carebrief/internal/helpers"
	"github.com/mohammad-safakhou/carebrief/internal/retrieval"
	srv "github.com/mohammad-safakhou/carebrief/internal/server"
	"github.com/mohammad-safakhou/carebrief/internal/store"
)

func main() {
	var cfgPath string
	root := &cobra.Command{Use: "carebrief"}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")

	var serveAddr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if serveAddr == "" {
				serveAddr = os.Getenv("CAREBRIEF_HTTP_ADDR")
			}
			return srv.Run(cfg, serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")

	var asJSON bool
	ask := &cobra.Command{
		Use:   "ask [question]",
		Short: "Run one question through the pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			orch, cleanup, err := buildOrchestrator(cfg)
			if err != nil {
				return err
			}
			defer cleanup()
			result, err := orch.Process(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			printRun(result)
			return nil
		},
	}
	ask.Flags().BoolVar(&asJSON, "json", false, "print the full run record as JSON")

	var promptsPath string
	var reportDir string
	eval := &cobra.Command{
		Use:   "eval",
		Short: "Run the eval prompt suite against the live pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			prompts, err := qa.LoadPrompts(promptsPath)
			if err != nil {
				return err
			}
			orch, cleanup, err := buildOrchestrator(cfg)
			if err != nil {
				return err
			}
			defer cleanup()
			report := qa.NewHarness(orch).Run(cmd.Context(), prompts)
			report.Render(os.Stdout)
			if reportDir != "" {
				if err := report.WriteJSON(filepath.Join(reportDir, "report.json"), promptsPath); err != nil {
					return err
				}
				if err := report.WriteMarkdown(filepath.Join(reportDir, "report.md"), promptsPath); err != nil {
					return err
				}
			}
			if report.Passed < report.Total {
				os.Exit(1)
			}
			return nil
		},
	}
	eval.Flags().StringVar(&promptsPath, "prompts", "eval/prompts.jsonl", "path to eval prompts jsonl")
	eval.Flags().StringVar(&reportDir, "out", "", "directory for report.json and report.md (optional)")

	var migDir string
	var direction string
	var steps int
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			dsn := os.Getenv("DATABASE_URL")
			if dsn == "" {
				dsn = cfg.Storage.Postgres.DSN()
			}
			return srv.Migrate(migDir, dsn, direction, steps)
		},
	}
	migrateCmd.Flags().StringVar(&migDir, "dir", "file://migrations", "migrations source (file://migrations)")
	migrateCmd.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrateCmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	var subject string
	var ttl time.Duration
	token := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token signed with the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if cfg.Server.JWTSecret == "" {
				return fmt.Errorf("jwt secret not configured (server.jwt_secret)")
			}
			signed, err := srv.SignJWT(subject, []byte(cfg.Server.JWTSecret), ttl)
			if err != nil {
				return err
			}
			fmt.Println(signed)
			return nil
		},
	}
	token.Flags().StringVar(&subject, "subject", "cli", "token subject")
	token.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")

	var corpusPath string
	index := &cobra.Command{
		Use:   "index",
		Short: "Embed and index a pre-chunked corpus into Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			return indexCorpus(cmd.Context(), cfg, corpusPath)
		},
	}
	index.Flags().StringVar(&corpusPath, "corpus", "", "path to passages JSON")
	_ = index.MarkFlagRequired("corpus")

	root.AddCommand(serve, ask, eval, migrateCmd, token, index)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// printRun renders a completed run the way the API consumer would see
// it: either the single invalid sentence or the full brief.
func printRun(result core.RunResult) {
	if result.Invalid != "" {
		fmt.Println(result.Invalid)
		return
	}
	fmt.Println("Executive summary")
	fmt.Println(result.Verified.ExecutiveSummary)
	fmt.Println()
	fmt.Println(result.Email)
	fmt.Println()
	fmt.Println("Action items")
	for _, a := range result.Verified.Actions {
		line := fmt.Sprintf("- %s (owner: %s, due: %s, confidence: %s)", a.Task, a.Owner, a.DueDate, a.Confidence)
		if a.ConfidenceRationale != "" {
			line += ": " + a.ConfidenceRationale
		}
		fmt.Println(line)
	}
	fmt.Println()
	fmt.Println(result.Sources)
	if cited := helpers.FormatCitations(result.Passages, result.Verified.CitationsUsed); len(cited) > 0 {
		fmt.Println()
		fmt.Println("Cited evidence")
		for _, line := range cited {
			fmt.Println(line)
		}
	}
}

// buildOrchestrator wires the pipeline for one-shot CLI use. The returned
// cleanup closes telemetry and any storage connections.
func buildOrchestrator(cfg *config.Config) (*core.Orchestrator, func(), error) {
	tele, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	closers := []func(){tele.Shutdown}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var retriever core.Retriever
	var runStore core.RunStore
	switch cfg.Retrieval.Backend {
	case "", "pgvector":
		st, err := store.New(cfg.Storage.Postgres)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connecting store: %w", err)
		}
		closers = append(closers, func() { _ = st.Close() })
		embedder, err := core.NewLLMProvider(cfg.LLM)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("building embedder: %w", err)
		}
		retriever = retrieval.NewPgvectorRetriever(st, embedder, cfg.LLM.EmbeddingModel())
		runStore = st
	case "bleve":
		r, err := retrieval.NewBleveRetriever(cfg.Retrieval.IndexPath)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("opening bleve index: %w", err)
		}
		closers = append(closers, func() { _ = r.Close() })
		if cfg.Retrieval.CorpusFile != "" {
			if err := r.LoadCorpus(cfg.Retrieval.CorpusFile); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("loading corpus: %w", err)
			}
		}
		retriever = r
	default:
		cleanup()
		return nil, nil, fmt.Errorf("unsupported retrieval backend: %s", cfg.Retrieval.Backend)
	}

	var cache core.GradeCache
	if cfg.Storage.Redis.Enabled() {
		gc, err := store.NewGradeCache(cfg.Storage.Redis)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connecting grade cache: %w", err)
		}
		closers = append(closers, func() { _ = gc.Close() })
		cache = gc
	}

	logger := log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	orch, err := core.NewOrchestrator(cfg, logger, tele, retriever, cache, runStore)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return orch, cleanup, nil
}
