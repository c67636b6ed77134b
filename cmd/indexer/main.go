package main

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/repochat/repochat/internal/ai"
	"github.com/repochat/repochat/internal/config"
	"github.com/repochat/repochat/internal/gitsource"
	"github.com/repochat/repochat/internal/ingest"
	"github.com/repochat/repochat/internal/vecstore"
)

func buildClientConfig(cfg config.Specification) (*ai.ClientConfig, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			EmbedModel: cfg.EmbedModel,
			ChatModel:  cfg.ChatModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Provider:   ai.ProviderOpenAI,
		}, nil
	case "groq":
		base := cfg.BaseURL
		if base == "" {
			base = "https://api.groq.com/openai/v1"
		}
		return &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    base,
			EmbedModel: cfg.EmbedModel,
			ChatModel:  cfg.ChatModel,
			Dim:        cfg.Dim,
			Provider:   ai.ProviderOpenAI,
		}, nil
	case "gemini", "google":
		return &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			ChatModel:  cfg.ChatModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Location:   cfg.Location,
			Provider:   ai.ProviderGemini,
		}, nil
	case "stub":
		return &ai.ClientConfig{
			Dim:      cfg.Dim,
			Provider: ai.ProviderStub,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

func main() {
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("repochat-indexer", pflag.ExitOnError)
	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	zerolog.SetGlobalLevel(level)

	clientConfig, err := buildClientConfig(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx := context.Background()
	client, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		log.Fatalf("Failed to create AI client: %v", err)
	}

	store, err := vecstore.Open(ctx, vecstore.Config{
		Backend:      cfg.VectorBackend,
		DatabaseURL:  cfg.Database,
		QdrantURL:    cfg.QdrantURL,
		QdrantAPIKey: cfg.QdrantAPIKey,
		Dim:          client.Dim(),
	})
	if err != nil {
		log.Fatalf("Failed to open vector store: %v", err)
	}
	defer store.Close()

	// A remote URL lands in the clone cache; otherwise RepoRoot is
	// indexed in place under its directory name.
	var root, namespace string
	if cfg.RepoURL != "" {
		namespace, err = gitsource.DeriveNamespace(cfg.RepoURL)
		if err != nil {
			log.Fatalf("Invalid repository URL: %v", err)
		}
		source := gitsource.New(cfg.CloneDir, cfg.GitRef, cfg.GithubToken)
		root, err = source.Fetch(ctx, cfg.RepoURL)
		if err != nil {
			log.Fatalf("Clone failed: %v", err)
		}
	} else {
		root, err = filepath.Abs(cfg.RepoRoot)
		if err != nil {
			log.Fatalf("Failed to resolve repo root: %v", err)
		}
		namespace = filepath.Base(root)
	}

	stats, err := ingest.New(client, store).IngestRepo(ctx, namespace, root)
	if err != nil {
		log.Fatalf("Ingestion failed: %v", err)
	}
	log.Printf("indexed %d files into namespace %q (%d chunks, %d vectors)", stats.Files, namespace, stats.Chunks, stats.Vectors)
}
