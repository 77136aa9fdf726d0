package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/efebarandurmaz/loom/internal/config"
	"github.com/efebarandurmaz/loom/internal/llm"
	"github.com/efebarandurmaz/loom/internal/llm/anthropic"
	"github.com/efebarandurmaz/loom/internal/llm/openai"
	"github.com/efebarandurmaz/loom/internal/observability"
	"github.com/efebarandurmaz/loom/internal/rag"
	"github.com/efebarandurmaz/loom/internal/secrets"
	"github.com/efebarandurmaz/loom/internal/vector"
	"github.com/efebarandurmaz/loom/internal/vector/memory"
	"github.com/efebarandurmaz/loom/internal/vector/qdrant"
)

func main() {
	var (
		configPath  string
		sourceName  string
		dumpMetrics bool
	)

	rootCmd := &cobra.Command{
		Use:   "loom",
		Short: "Document Q&A over your own text files",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (defaults + LOOM_* env when empty)")
	rootCmd.PersistentFlags().BoolVar(&dumpMetrics, "dump-metrics", false, "Print Prometheus metrics to stderr after the command")

	ingestCmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Segment, embed, and store a text document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), configPath, args[0], sourceName, dumpMetrics)
		},
	}
	ingestCmd.Flags().StringVar(&sourceName, "source", "", "Source name stored with each chunk (default: file base name)")

	var askSource string
	askCmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question answered from the ingested documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), configPath, args[0], askSource, dumpMetrics)
		},
	}
	askCmd.Flags().StringVar(&askSource, "source", "", "Restrict context to chunks from this source")

	sourcesCmd := &cobra.Command{
		Use:   "sources",
		Short: "List ingested source documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSources(cmd.Context(), configPath)
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <source>",
		Short: "Remove every chunk ingested from a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(cmd.Context(), configPath, args[0])
		},
	}

	providersCmd := &cobra.Command{
		Use:   "providers",
		Short: "List available model providers",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available model providers:")
			fmt.Println()
			names := make([]string, 0, len(llm.KnownProviders))
			for name := range llm.KnownProviders {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("  %-14s %s\n", name, llm.KnownProviders[name])
			}
			fmt.Println("  custom         (set base_url to any OpenAI-compatible endpoint)")
			fmt.Println()
			fmt.Println("Configure in loom.yaml or via environment:")
			fmt.Println("  LOOM_LLM_PROVIDER=openai")
			fmt.Println("  LOOM_LLM_API_KEY=sk-...")
			fmt.Println("  LOOM_LLM_MODEL=gpt-4o-mini")
			fmt.Println("  LOOM_LLM_EMBED_MODEL=text-embedding-3-small")
		},
	}

	rootCmd.AddCommand(ingestCmd, askCmd, sourcesCmd, deleteCmd, providersCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// pipeline bundles everything a command needs plus the teardown work.
type pipeline struct {
	svc      *rag.Service
	audit    *observability.AuditLogger
	registry *observability.MetricsRegistry
	cleanup  func(context.Context)
}

func buildPipeline(ctx context.Context, configPath string) (*pipeline, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	secretsMgr, err := secrets.NewManager(&secrets.Config{
		Provider:   cfg.Secrets.Provider,
		FileConfig: &secrets.FileConfig{Path: cfg.Secrets.Path},
		VaultConfig: &secrets.VaultConfig{
			Address: cfg.Secrets.VaultAddress,
			Token:   cfg.Secrets.VaultToken,
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init secrets backend: %w", err)
	}

	tracingCfg := &observability.TracingConfig{
		ServiceName:  "loom",
		Environment:  cfg.Tracing.Environment,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
	}
	if cfg.Tracing.OTLPEndpoint != "" {
		tracingCfg.AuthToken = secretsMgr.GetOrDefault(ctx, string(secrets.SecretOTLPToken), "")
	}
	tp, err := observability.InitTracing(ctx, tracingCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init tracing: %w", err)
	}

	audit, err := observability.NewAuditLogger(&observability.AuditConfig{
		Enabled:    cfg.Audit.Enabled,
		OutputPath: cfg.Audit.Path,
	})
	if err != nil {
		return nil, nil, err
	}

	provider, err := buildProvider(ctx, cfg, secretsMgr)
	if err != nil {
		return nil, nil, err
	}

	repo, err := buildRepository(ctx, cfg, secretsMgr)
	if err != nil {
		return nil, nil, err
	}

	registry := observability.NewMetricsRegistry()
	policy := rag.Policy{
		ChunkSize:           cfg.RAG.ChunkSize,
		Overlap:             cfg.RAG.Overlap,
		SimilarityThreshold: float32(cfg.RAG.SimilarityThreshold),
		TopK:                cfg.RAG.TopK,
		MaxDocumentChars:    cfg.RAG.MaxDocumentChars,
	}
	svc := rag.New(provider, repo, policy, rag.WithMetrics(rag.NewMetrics(registry)))

	cleanup := func(ctx context.Context) {
		repo.Close()
		audit.Close()
		tp.Shutdown(ctx)
	}
	return &pipeline{svc: svc, audit: audit, registry: registry, cleanup: cleanup}, cfg, nil
}

// buildProvider creates the configured model provider, wrapped with retry and
// (when configured) rate limiting. An API key absent from the config file is
// resolved through the secrets backend.
func buildProvider(ctx context.Context, cfg *config.Config, secretsMgr *secrets.Manager) (llm.Provider, error) {
	apiKey := cfg.LLM.APIKey
	if apiKey == "" {
		apiKey = secretsMgr.GetOrDefault(ctx, string(secrets.SecretLLMAPIKey), "")
	}

	factory := llm.NewFactory()
	factory.Register("anthropic", func(c llm.ProviderConfig) (llm.Provider, error) {
		return anthropic.New(c.APIKey, c.Model, c.BaseURL), nil
	})
	factory.Register("openai", func(c llm.ProviderConfig) (llm.Provider, error) {
		return openai.New(c.APIKey, c.Model, c.BaseURL, c.EmbedModel), nil
	})
	// All OpenAI-compatible providers
	for _, p := range []struct{ name, url string }{
		{"groq", llm.KnownProviders["groq"]},
		{"ollama", llm.KnownProviders["ollama"]},
		{"together", llm.KnownProviders["together"]},
		{"deepseek", llm.KnownProviders["deepseek"]},
		{"custom", ""},
	} {
		p := p
		factory.Register(p.name, func(c llm.ProviderConfig) (llm.Provider, error) {
			base := c.BaseURL
			if base == "" {
				base = p.url
			}
			return openai.New(c.APIKey, c.Model, base, c.EmbedModel), nil
		})
	}

	provider, err := factory.Create(llm.ProviderConfig{
		Provider:    cfg.LLM.Provider,
		APIKey:      apiKey,
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		EmbedModel:  cfg.LLM.EmbedModel,
		Timeout:     cfg.LLM.Timeout,
		MaxAttempts: cfg.LLM.MaxAttempts,
		BaseDelay:   cfg.LLM.BaseDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("creating model provider: %w", err)
	}

	if cfg.LLM.RequestsPerMinute > 0 {
		provider = llm.WithRateLimit(provider, &llm.RateLimitConfig{
			RequestsPerMinute: cfg.LLM.RequestsPerMinute,
		})
	}
	return provider, nil
}

func buildRepository(ctx context.Context, cfg *config.Config, secretsMgr *secrets.Manager) (vector.Repository, error) {
	switch cfg.Vector.Store {
	case "memory":
		return memory.New(), nil
	case "qdrant", "":
		apiKey := secretsMgr.GetOrDefault(ctx, string(secrets.SecretQdrantAPIKey), "")
		repo, err := qdrant.New(ctx, cfg.Vector.Host, cfg.Vector.Port, cfg.Vector.Collection, apiKey)
		if err != nil {
			return nil, fmt.Errorf("connecting to qdrant: %w", err)
		}
		if err := repo.EnsureCollection(ctx, cfg.Vector.Dimension); err != nil {
			repo.Close()
			return nil, fmt.Errorf("preparing collection: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown vector store %q (expected qdrant or memory)", cfg.Vector.Store)
	}
}

func runIngest(ctx context.Context, configPath, filePath, sourceName string, dumpMetrics bool) error {
	p, cfg, err := buildPipeline(ctx, configPath)
	if err != nil {
		return err
	}
	defer p.cleanup(ctx)

	// Check the size before reading so an oversized file never loads into memory.
	info, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", filePath, err)
	}
	if info.Size() > cfg.RAG.MaxUploadBytes {
		return fmt.Errorf("%s is %d bytes, upload limit is %d", filePath, info.Size(), cfg.RAG.MaxUploadBytes)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("read %s: %w", filePath, err)
	}

	if sourceName == "" {
		sourceName = filepath.Base(filePath)
	}

	report, err := p.svc.Ingest(ctx, string(data), sourceName)
	if report != nil {
		p.audit.LogIngest(sourceName, report.ChunksCreated, report.Elapsed, err)
	} else {
		p.audit.LogIngest(sourceName, 0, 0, err)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Ingested %s: %d chunks in %v\n", sourceName, report.ChunksCreated, report.Elapsed)
	if dumpMetrics {
		p.registry.WritePrometheus(os.Stderr)
	}
	return nil
}

func runAsk(ctx context.Context, configPath, question, sourceFilter string, dumpMetrics bool) error {
	p, _, err := buildPipeline(ctx, configPath)
	if err != nil {
		return err
	}
	defer p.cleanup(ctx)

	start := time.Now()
	err = p.svc.Answer(ctx, question, sourceFilter, os.Stdout)
	p.audit.LogAnswer(sourceFilter, len(question), time.Since(start), err)
	if err != nil {
		fmt.Println()
		return err
	}

	fmt.Println()
	if dumpMetrics {
		p.registry.WritePrometheus(os.Stderr)
	}
	return nil
}

func runSources(ctx context.Context, configPath string) error {
	p, _, err := buildPipeline(ctx, configPath)
	if err != nil {
		return err
	}
	defer p.cleanup(ctx)

	summaries, err := p.svc.ListSources(ctx)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Println("No documents ingested yet.")
		return nil
	}

	fmt.Printf("%-40s %8s  %s\n", "SOURCE", "CHUNKS", "INGESTED")
	for _, s := range summaries {
		fmt.Printf("%-40s %8d  %s\n", s.Source, s.ChunkCount, s.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runDelete(ctx context.Context, configPath, source string) error {
	p, _, err := buildPipeline(ctx, configPath)
	if err != nil {
		return err
	}
	defer p.cleanup(ctx)

	err = p.svc.DeleteSource(ctx, source)
	p.audit.LogDelete(source, err)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %s\n", source)
	return nil
}
