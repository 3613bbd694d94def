package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"swap-assistant/internal/config"
	"swap-assistant/internal/db"
	"swap-assistant/internal/embedding"
	"swap-assistant/internal/helper"
	"swap-assistant/internal/indexer"
	"swap-assistant/internal/models"
	"swap-assistant/internal/parser"
)

const (
	configFilePath = "./configs/config.yaml"
	defaultFAQFile = "Uitgebreide_Swap_Je_Lease_FAQ.csv"
)

func main() {
	configPath := flag.String("config", configFilePath, "Path to the config file")
	filePath := flag.String("file", defaultFAQFile, "FAQ table (.csv, .xlsx, .xlsm)")
	docs := flag.String("docs", "", "Comma separated knowledge documents (.pdf, .docx, .md, .txt)")
	dryRun := flag.Bool("dry-run", false, "Parse and chunk only, do not embed or save")
	zipIndex := flag.Bool("zip", false, "Package the index directory as index.archive")
	flag.Parse()

	// a missing .env is fine, the environment may already be set
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	helper.SetupLogger(cfg.Log.Level, cfg.Log.Pretty)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}

	documents := append([]string(nil), cfg.RAG.Documents...)
	for _, d := range strings.Split(*docs, ",") {
		if d = strings.TrimSpace(d); d != "" {
			documents = append(documents, d)
		}
	}

	records, err := indexer.LoadRecords(cfg, *filePath, documents)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading records")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *dryRun {
		runDryRun(cfg, records)
		return
	}

	if err := cfg.RequireCredentials(); err != nil {
		log.Fatal().Err(err).Msg("Missing credentials")
	}
	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}

	var persist indexer.PersistFunc
	switch cfg.Index.Backend {
	case config.BackendPgvector:
		sqldb, err := db.ConnectDB(&cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("Error connecting to database")
		}
		dbInstance := db.NewDB(sqldb, cfg.Database.Debug)
		defer dbInstance.Close()
		persist = func(ctx context.Context, chunks []models.EmbeddedChunk, _ models.Manifest) error {
			return db.ReplaceDocuments(ctx, dbInstance, &cfg.Database, chunks)
		}
	default:
		persist = indexer.FileBackend(&cfg.Index)
	}

	manifest, err := indexer.NewBuilder(cfg, embedder, persist).Build(ctx, records)
	if err != nil {
		log.Fatal().Err(err).Msg("Error building index")
	}
	log.Info().Str("backend", cfg.Index.Backend).Int("chunks", manifest.Count).Msg("Index saved")

	if *zipIndex && cfg.Index.Backend == config.BackendFile {
		if cfg.Index.Archive == "" {
			log.Fatal().Msg("index.archive is not configured")
		}
		if err := helper.CreateFolder(filepath.Dir(cfg.Index.Archive)); err != nil {
			log.Fatal().Err(err).Msg("Error creating archive folder")
		}
		if err := helper.ZipDir(cfg.Index.Dir, cfg.Index.Archive); err != nil {
			log.Fatal().Err(err).Msg("Error zipping index")
		}
		log.Info().Str("archive", cfg.Index.Archive).Msg("Index archived")
	}
}

func runDryRun(cfg *config.Config, records []models.SourceRecord) {
	chunks, err := parser.ChunkRecords(records, cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	if err != nil {
		log.Fatal().Err(err).Msg("Error chunking records")
	}
	if err := indexer.Verify(records, chunks, cfg.RAG.ChunkOverlap); err != nil {
		log.Fatal().Err(err).Msg("Chunk verification failed")
	}
	log.Info().Int("records", len(records)).Int("chunks", len(chunks)).Msg("Parsed content")
	helper.PrettyPrint(chunks)
}
