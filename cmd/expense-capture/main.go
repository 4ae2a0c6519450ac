package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/expense-capture/internal/capture"
	"github.com/zombor/expense-capture/internal/events"
	"github.com/zombor/expense-capture/internal/ledger"
	"github.com/zombor/expense-capture/internal/scanning"
	"github.com/zombor/expense-capture/internal/server"
	"github.com/zombor/expense-capture/internal/store"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// Load .env file for local development (ignore errors in production)
	_ = godotenv.Load()

	fs := ff.NewFlagSet("expense-capture")
	var (
		port         = fs.IntLong("port", 8080, "HTTP server port")
		dbPath       = fs.StringLong("db", "expense-capture.db", "Database file path")
		receiptsPath = fs.StringLong("receipts", "./receipts", "Receipt storage directory path")
		scannerType  = fs.StringLong("scanner", "gemini", "Scanner type: 'gemini' or 'ollama'")
		geminiKey    = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel  = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL    = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel  = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, qwen2-vl)")
		authUser     = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass     = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		startOnline  = fs.BoolLong("start-online", "Assume connectivity until the client reports otherwise")
		autoSync     = fs.BoolLong("auto-sync", "Analyze queued captures when connectivity returns")
		categories   = fs.StringLong("categories", "", "Comma separated expense categories (default: built-in list)")
		accounts     = fs.StringLong("accounts", "Contanti", "Comma separated accounts; the first is the default")
		amqpURL      = fs.StringLong("amqp-url", "", "AMQP URL for expense events (optional)")
		amqpExchange = fs.StringLong("amqp-exchange", "expenses", "AMQP exchange name")
		amqpQueue    = fs.StringLong("amqp-queue", "expense-created", "AMQP queue name")
		logLevel     = fs.StringLong("log-level", "info", "Log level: debug, info, warn, error")
		showVersion  = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("EXPENSE_CAPTURE"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	logger, err := newLogger(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	// Initialize database
	logger.Info("Initializing database...", "path", *dbPath)
	db, err := store.NewBoltDB(*dbPath)
	if err != nil {
		logger.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	catalog := splitList(*categories)
	if len(catalog) == 0 {
		catalog = capture.DefaultCategories
	}

	// Initialize scanner based on type
	var scanner scanning.Scanner
	switch *scannerType {
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			logger.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		logger.Info("Initializing Gemini scanner...", "model", *geminiModel)
		scanner, err = scanning.NewGemini(apiKey, *geminiModel, catalog)
		if err != nil {
			logger.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		logger.Info("Initializing Ollama scanner...", "url", *ollamaURL, "model", *ollamaModel)
		scanner, err = scanning.NewOllama(*ollamaURL, *ollamaModel, catalog)
		if err != nil {
			logger.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		logger.Error("Invalid scanner type", "type", *scannerType, "valid", "gemini or ollama")
		os.Exit(1)
	}
	defer scanner.Close()

	// Initialize receipt storage
	receipts, err := ledger.NewLocalStorage(*receiptsPath)
	if err != nil {
		logger.Error("Failed to initialize receipt storage", "error", err)
		os.Exit(1)
	}

	// Expense events are optional
	var publisher events.Publisher = events.Nop{}
	if *amqpURL != "" {
		p, err := events.NewAMQPPublisher(*amqpURL, *amqpExchange, *amqpQueue, logger)
		if err != nil {
			logger.Error("Failed to connect to AMQP", "error", err)
			os.Exit(1)
		}
		publisher = p
		logger.Info("Expense events enabled", "exchange", *amqpExchange, "queue", *amqpQueue)
	}
	defer publisher.Close()

	book := ledger.NewLedger(db, receipts, publisher, logger)
	if err := book.SeedAccounts(context.Background(), splitList(*accounts)); err != nil {
		logger.Error("Failed to seed accounts", "error", err)
		os.Exit(1)
	}

	// Wire the capture flow
	gate := capture.NewGate(*startOnline)
	feed := capture.NewFeed(db, logger)
	inbox := capture.NewInbox()
	controller := capture.NewController(capture.ControllerConfig{
		Queue:    db,
		Gate:     gate,
		Feed:     feed,
		Intake:   capture.NewIntake(db, gate, feed, logger),
		Resolver: capture.NewResolver(db, gate, feed, scanner, book, catalog, logger),
		Router:   capture.NewRouter(inbox, nil),
		Creator:  book,
		Logger:   logger,
		AutoSync: *autoSync,
	})

	basicAuth := server.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	srv := server.NewServer(controller, inbox, book, basicAuth, logger)

	addr := fmt.Sprintf(":%d", *port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "online", gate.Online())
		if *authUser != "" || *authPass != "" {
			logger.Info("Basic auth enabled", "user", *authUser)
		}
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}

// newLogger writes text to a terminal and JSON otherwise
func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	fd := os.Stderr.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
