// Package main is the chishiki CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/chishiki/internal/config"
	"github.com/hyperjump/chishiki/internal/kb"
	"github.com/hyperjump/chishiki/internal/server"
	"github.com/hyperjump/chishiki/internal/watcher"
	"github.com/hyperjump/chishiki/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/chishiki/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "upload":
		runUpload()
	case "ingest":
		runIngest()
	case "search":
		runSearch()
	case "list":
		runList()
	case "delete":
		runDelete()
	case "rebuild":
		runRebuild()
	case "stats":
		runStats()
	case "version", "--version", "-v":
		fmt.Printf("chishiki version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads config and builds the manager most commands need.
func setup(fs *flag.FlagSet, args []string) (*config.Config, *kb.Manager, *zap.Logger) {
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug || *debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	manager, err := kb.NewManager(cfg.Storage.BaseDir,
		kb.WithLogger(logger),
		kb.WithDefaults(cfg.KB.ChunkSize, cfg.KB.ChunkOverlap, cfg.KB.TopK, cfg.KB.MaxChars),
	)
	if err != nil {
		fmt.Printf("Failed to initialize knowledge base: %v\n", err)
		os.Exit(1)
	}
	return cfg, manager, logger
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	cfg, manager, logger := setup(fs, os.Args[2:])
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Watch.Directory != "" {
		w := watcher.NewWatcher(cfg.Watch.Directory, func(character, path string) {
			if _, _, err := manager.ImportFile(character, path); err != nil {
				logger.Error("auto-import failed",
					zap.String("character", character),
					zap.String("path", path),
					zap.Error(err),
				)
			}
		}, watcher.WithLogger(logger), watcher.WithDebounce(time.Duration(cfg.Watch.DebounceMS)*time.Millisecond))
		if err := w.Start(ctx); err != nil {
			logger.Error("failed to start drop-directory watcher", zap.Error(err))
		} else {
			defer w.Stop()
		}
	}

	srv := server.NewServer(manager, cfg, logger)
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		_ = srv.Stop(context.Background())
		cancel()
	}()
	if err := srv.Start(); err != nil {
		logger.Info("server stopped", zap.Error(err))
	}
}

func runUpload() {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	character := fs.String("character", "", "character ID")
	filePath := fs.String("file", "", "file to upload")
	ingestNow := fs.Bool("ingest", true, "ingest after upload")
	_, manager, logger := setupWith(fs, os.Args[2:], []string{"character", "file"})
	defer logger.Sync()

	content, err := os.ReadFile(*filePath)
	if err != nil {
		fmt.Printf("Failed to read file: %v\n", err)
		os.Exit(1)
	}
	doc, err := manager.UploadDocument(*character, filepath.Base(*filePath), content)
	if err != nil {
		fmt.Printf("Upload failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Uploaded %s (file_id: %s)\n", doc.OriginalFilename, doc.FileID)

	if *ingestNow {
		if _, err := manager.IngestDocument(context.Background(), *character, doc.FileID, false, 0, 0); err != nil {
			fmt.Printf("Ingestion failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Indexed.")
	}
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	character := fs.String("character", "", "character ID")
	fileID := fs.String("file-id", "", "document file ID")
	chunkSize := fs.Int("chunk-size", 0, "chunk size in characters (0 = default)")
	chunkOverlap := fs.Int("chunk-overlap", 0, "chunk overlap in characters (0 = default)")
	_, manager, logger := setupWith(fs, os.Args[2:], []string{"character", "file-id"})
	defer logger.Sync()

	if _, err := manager.IngestDocument(context.Background(), *character, *fileID, false, *chunkSize, *chunkOverlap); err != nil {
		fmt.Printf("Ingestion failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Indexed.")
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	character := fs.String("character", "", "character ID")
	query := fs.String("query", "", "search query")
	topK := fs.Int("top-k", 0, "number of results (0 = default)")
	maxChars := fs.Int("max-chars", 0, "character budget (0 = default)")
	asContext := fs.Bool("context", false, "print as formatted context block")
	_, manager, logger := setupWith(fs, os.Args[2:], []string{"character", "query"})
	defer logger.Sync()

	results, err := manager.Retrieve(context.Background(), *character, *query, *topK, *maxChars)
	if err != nil {
		fmt.Printf("Search failed: %v\n", err)
		os.Exit(1)
	}
	if *asContext {
		fmt.Println(manager.FormatContext(results, true))
		return
	}
	if len(results) == 0 {
		fmt.Println("No results.")
		return
	}
	for i, res := range results {
		truncated := ""
		if res.Truncated {
			truncated = " [truncated]"
		}
		fmt.Printf("%d. %s (chunk %d, rank %.4f)%s\n   %s\n",
			i+1, res.OriginalFilename, res.ChunkIndex, res.Rank, truncated, res.Text)
	}
}

func runList() {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	character := fs.String("character", "", "character ID")
	_, manager, logger := setupWith(fs, os.Args[2:], []string{"character"})
	defer logger.Sync()

	docs, err := manager.ListDocuments(*character)
	if err != nil {
		fmt.Printf("List failed: %v\n", err)
		os.Exit(1)
	}
	if len(docs) == 0 {
		fmt.Println("No documents.")
		return
	}
	for _, doc := range docs {
		status := doc.Status
		if doc.Error != "" {
			status += " (" + doc.Error + ")"
		}
		fmt.Printf("%s  %s  %d bytes  %s\n", doc.FileID, doc.OriginalFilename, doc.Size, status)
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	character := fs.String("character", "", "character ID")
	fileID := fs.String("file-id", "", "document file ID")
	_, manager, logger := setupWith(fs, os.Args[2:], []string{"character", "file-id"})
	defer logger.Sync()

	deleted, err := manager.DeleteDocument(context.Background(), *character, *fileID)
	if err != nil {
		fmt.Printf("Delete failed: %v\n", err)
		os.Exit(1)
	}
	if !deleted {
		fmt.Println("Document not found.")
		os.Exit(1)
	}
	fmt.Println("Deleted.")
}

func runRebuild() {
	fs := flag.NewFlagSet("rebuild", flag.ExitOnError)
	character := fs.String("character", "", "character ID")
	_, manager, logger := setupWith(fs, os.Args[2:], []string{"character"})
	defer logger.Sync()

	if err := manager.RebuildIndex(context.Background(), *character); err != nil {
		fmt.Printf("Rebuild failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Rebuild complete.")
}

func runStats() {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	character := fs.String("character", "", "character ID")
	_, manager, logger := setupWith(fs, os.Args[2:], []string{"character"})
	defer logger.Sync()

	stats, err := manager.GetStats(context.Background(), *character)
	if err != nil {
		fmt.Printf("Stats failed: %v\n", err)
		os.Exit(1)
	}
	out, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Println(string(out))
}

// setupWith is setup plus required-flag validation.
func setupWith(fs *flag.FlagSet, args []string, required []string) (*config.Config, *kb.Manager, *zap.Logger) {
	cfg, manager, logger := setup(fs, args)
	for _, name := range required {
		f := fs.Lookup(name)
		if f == nil || f.Value.String() == "" {
			fmt.Printf("Missing required flag: -%s\n", name)
			fs.Usage()
			os.Exit(1)
		}
	}
	return cfg, manager, logger
}

func printUsage() {
	fmt.Println(`chishiki - per-character offline knowledge base

Usage:
  chishiki <command> [flags]

Commands:
  server    Start the HTTP API server
  upload    Upload (and ingest) a document
  ingest    Re-ingest an uploaded document
  search    Search a character's knowledge base
  list      List a character's documents
  delete    Delete a document
  rebuild   Rebuild a character's index
  stats     Show knowledge base statistics
  version   Print version

Common flags:
  -config   Config file path (default ` + defaultConfigPath + `)
  -debug    Enable debug logging`)
}
