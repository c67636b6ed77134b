package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/pflag"

	"github.com/repochat/repochat/internal/ai"
	"github.com/repochat/repochat/internal/answer"
	"github.com/repochat/repochat/internal/config"
	"github.com/repochat/repochat/internal/gitsource"
	"github.com/repochat/repochat/internal/ingest"
	"github.com/repochat/repochat/internal/vecstore"
	"github.com/repochat/repochat/pkg/models"
)

// Per-handler deadlines. Ingestion clones and embeds a whole
// repository, so it gets far more room than a query.
const (
	ingestTimeout     = 10 * time.Minute
	queryTimeout      = 60 * time.Second
	namespacesTimeout = 5 * time.Second
)

type repoRequest struct {
	RepoURL string `json:"repo_url"`
}

type queryRequest struct {
	Query     string                    `json:"query"`
	History   []models.ConversationTurn `json:"history"`
	Namespace string                    `json:"namespace"`
}

// server bundles the services the handlers need.
type server struct {
	source *gitsource.Manager
	ingest *ingest.Service
	answer *answer.Service
	store  vecstore.Store
}

func newMux(s *server) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	mux.HandleFunc("/submit-repo", s.handleSubmitRepo)
	mux.HandleFunc("/query", s.handleQuery)
	mux.HandleFunc("/namespaces", s.handleNamespaces)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *server) handleSubmitRepo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req repoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	repoURL := strings.TrimSpace(req.RepoURL)
	if repoURL == "" {
		writeError(w, http.StatusBadRequest, "repo_url is required")
		return
	}
	namespace, err := gitsource.DeriveNamespace(repoURL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), ingestTimeout)
	defer cancel()

	start := time.Now()
	root, err := s.source.Fetch(ctx, repoURL)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("repo", repoURL).Msg("clone failed")
		writeError(w, http.StatusBadGateway, "Failed to clone repository.")
		return
	}

	stats, err := s.ingest.IngestRepo(ctx, namespace, root)
	if err != nil {
		if errors.Is(err, ingest.ErrNoChunks) {
			writeError(w, http.StatusBadRequest, "No valid code chunks found.")
			return
		}
		hlog.FromRequest(r).Error().Err(err).Str("namespace", namespace).Msg("ingestion failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	hlog.FromRequest(r).Info().
		Str("namespace", namespace).
		Int("files", stats.Files).
		Int("chunks", stats.Chunks).
		Int("vectors", stats.Vectors).
		Dur("dur", time.Since(start)).
		Msg("repository processed")
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Repository processed successfully.",
	})
}

func (s *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if strings.TrimSpace(req.Namespace) == "" {
		writeError(w, http.StatusBadRequest, "namespace is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	start := time.Now()
	resp, err := s.answer.Answer(ctx, answer.Request{
		Namespace: req.Namespace,
		Query:     req.Query,
		History:   req.History,
	})
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("namespace", req.Namespace).Msg("query failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	hlog.FromRequest(r).Info().
		Str("namespace", req.Namespace).
		Int("matches", len(resp.Matches)).
		Dur("dur", time.Since(start)).
		Msg("query answered")
	writeJSON(w, http.StatusOK, map[string]string{"answer": resp.Answer})
}

func (s *server) handleNamespaces(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), namespacesTimeout)
	defer cancel()

	namespaces, err := s.store.Namespaces(ctx)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to fetch namespaces")
		writeError(w, http.StatusInternalServerError, "Failed to fetch namespaces.")
		return
	}
	if namespaces == nil {
		namespaces = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"namespaces": namespaces})
}

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
		// Groq speaks the OpenAI API on its own endpoint.
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

	fs := pflag.NewFlagSet("repochat-api", pflag.ExitOnError)
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
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().
		Str("provider", cfg.Provider).
		Str("vector_backend", cfg.VectorBackend).
		Str("log_level", cfg.LogLevel).
		Msg("starting repochat api")

	clientConfig, err := buildClientConfig(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx := context.Background()
	client, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		log.Fatalf("Failed to create AI client: %v", err)
	}

	dim := client.Dim()
	logger.Info().Int("embedding_dim", dim).Str("embed_model", clientConfig.EmbedModel).Msg("AI client initialized")

	store, err := vecstore.Open(ctx, vecstore.Config{
		Backend:      cfg.VectorBackend,
		DatabaseURL:  cfg.Database,
		QdrantURL:    cfg.QdrantURL,
		QdrantAPIKey: cfg.QdrantAPIKey,
		Dim:          dim,
	})
	if err != nil {
		log.Fatalf("Failed to open vector store: %v", err)
	}
	defer store.Close()

	answerSvc := answer.New(client, store)
	answerSvc.TopK = cfg.TopK

	s := &server{
		source: gitsource.New(cfg.CloneDir, cfg.GitRef, cfg.GithubToken),
		ingest: ingest.New(client, store),
		answer: answerSvc,
		store:  store,
	}

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(newMux(s)),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: address, Handler: handler}
	logger.Info().Str("addr", srv.Addr).Msg("api server listening")
	log.Fatal(srv.ListenAndServe())
}
