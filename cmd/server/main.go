package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"swap-assistant/internal/chromemdb"
	"swap-assistant/internal/config"
	"swap-assistant/internal/db"
	"swap-assistant/internal/embedding"
	"swap-assistant/internal/helper"
	"swap-assistant/internal/llmservice"
	"swap-assistant/internal/memory"
	"swap-assistant/internal/models"
	"swap-assistant/internal/rag"
	"swap-assistant/internal/server"
)

const configFilePath = "./configs/config.yaml"

func main() {
	configPath := flag.String("config", configFilePath, "Path to the config file")
	query := flag.String("query", "", "Answer one question and exit")
	interactive := flag.Bool("chat", false, "Ask questions from stdin with conversation memory")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	helper.SetupLogger(cfg.Log.Level, cfg.Log.Pretty)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}
	if err := cfg.RequireCredentials(); err != nil {
		log.Fatal().Err(err).Msg("Missing credentials")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	index, closeIndex := loadIndex(ctx, cfg)
	defer closeIndex()

	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}
	llm, err := llmservice.NewLLM(&cfg.ChatLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing chat model")
	}
	responder, err := rag.NewRAG(index, embedder, llm, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing responder")
	}

	var counter memory.TokenCounter
	if cfg.Memory.MaxTokens > 0 {
		counter = memory.ModelTokenCounter(cfg.ChatLLM.Model)
	}

	if *query != "" {
		answerOnce(ctx, responder, *query)
		return
	}
	if *interactive {
		var conv *memory.Conversation
		if cfg.Memory.Enabled {
			conv = memory.NewConversation(cfg.Memory.MaxTurns, cfg.Memory.MaxTokens, counter)
		}
		chat(ctx, os.Stdin, os.Stdout, responder, conv)
		return
	}

	var sessions *memory.Store
	if cfg.Memory.Enabled {
		sessions = memory.NewStore(cfg.Memory, counter)
	}
	e := server.New(&cfg.Server, server.NewHandler(responder, sessions, cfg.Server.RequestTimeout))

	go func() {
		log.Info().Str("port", cfg.Server.Port).Int("chunks", responder.IndexSize()).Msg("Listening")
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server stopped")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	if err := server.Shutdown(e, 10*time.Second); err != nil {
		log.Error().Err(err).Msg("Error shutting down")
	}
}

// loadIndex opens the configured backend once, before anything is served.
func loadIndex(ctx context.Context, cfg *config.Config) (rag.Searcher, func()) {
	if cfg.Index.Backend == config.BackendPgvector {
		sqldb, err := db.ConnectDB(&cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("Error connecting to database")
		}
		dbInstance := db.NewDB(sqldb, cfg.Database.Debug)
		store, err := db.Open(ctx, dbInstance, &cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("Error opening index")
		}
		return store, func() { dbInstance.Close() }
	}

	if err := helper.EnsureExtracted(cfg.Index.Archive, cfg.Index.Dir); err != nil {
		log.Fatal().Err(err).Msg("Error extracting index archive")
	}
	index, err := chromemdb.Load(ctx, cfg.Index.Dir, cfg.Index.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading index")
	}
	manifest := index.Manifest()
	if manifest.EmbeddingModel != cfg.EmbedLLM.Model {
		log.Warn().
			Str("index_model", manifest.EmbeddingModel).
			Str("config_model", cfg.EmbedLLM.Model).
			Msg("Index was built with a different embedding model")
	}
	return index, func() {}
}

func answerOnce(ctx context.Context, responder *rag.RAG, query string) {
	answer, err := responder.Ask(ctx, query, nil)
	if errors.Is(err, models.ErrEmptyQuery) {
		return
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Error querying")
	}

	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", answer.Query)

	log.Info().Msg("Source: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	for _, s := range answer.Sources {
		fmt.Printf("%s row %d (%.3f)\n", s.Source, s.Row, s.Distance)
	}
	fmt.Println()

	log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", answer.Content)
}

type asker interface {
	Ask(ctx context.Context, query string, conv *memory.Conversation) (*models.Answer, error)
}

// chat answers one question per input line until in is exhausted. A failed
// question is reported and the loop goes on with the next one.
func chat(ctx context.Context, in io.Reader, out io.Writer, responder asker, conv *memory.Conversation) {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		answer, err := responder.Ask(ctx, scanner.Text(), conv)
		switch {
		case errors.Is(err, models.ErrEmptyQuery):
		case models.IsProviderError(err):
			log.Error().Err(err).Msg("Provider call failed")
			fmt.Fprintln(out, models.FriendlyErrorMessage)
		case err != nil:
			log.Error().Err(err).Msg("Failed to answer question")
			fmt.Fprintln(out, models.FriendlyErrorMessage)
		default:
			fmt.Fprintln(out, answer.Content)
		}
		if ctx.Err() != nil {
			return
		}
		fmt.Fprint(out, "> ")
	}
}
