package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"google.golang.org/api/option"

	"github.com/zombor/receipt-sheets/internal/receipt"
	"github.com/zombor/receipt-sheets/internal/scanning"
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

	// A .env file is optional; real environment variables still apply
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	fs := ff.NewFlagSet("receipt-sheets")
	var (
		port         = fs.IntLong("port", 8080, "HTTP server port")
		dbPath       = fs.StringLong("db", "receipt-sheets.db", "Settings database file path")
		scannerType  = fs.StringLong("scanner", "gemini", "Scanner type: 'gemini', 'gemini-sdk' or 'ollama'")
		geminiKey    = fs.StringLong("gemini-key", "", "Default Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel  = fs.StringLong("gemini-model", scanning.DefaultGeminiModel, "Google Gemini model name")
		geminiURL    = fs.StringLong("gemini-url", scanning.DefaultGeminiBaseURL, "Gemini REST models endpoint")
		ollamaURL    = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel  = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, qwen2-vl)")
		maxDimension = fs.IntLong("max-dimension", 0, "Downscale images larger than this many pixels (0 disables)")
		clientID     = fs.StringLong("oauth-client-id", "", "Default Google OAuth client ID")
		clientSecret = fs.StringLong("oauth-client-secret", "", "Default Google OAuth client secret")
		sheetID      = fs.StringLong("spreadsheet-id", "", "Default Google Sheet ID")
		baseURL      = fs.StringLong("base-url", "", "Public base URL used for the OAuth callback (default http://localhost:<port>)")
		authUser     = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass     = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		debug        = fs.BoolLong("debug", "Enable debug logging")
		showVersion  = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RECEIPT_SHEETS"),
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

	if *debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	apiKey := *geminiKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}

	// Initialize database
	slog.Info("Initializing database...", "path", *dbPath)
	db, err := receipt.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}

	// Initialize extractor based on type
	var extractor scanning.Extractor
	switch *scannerType {
	case "gemini":
		slog.Info("Initializing Gemini extractor...", "model", *geminiModel)
		extractor = scanning.NewGeminiREST(*geminiURL, *geminiModel, &http.Client{})
	case "gemini-sdk":
		slog.Info("Initializing Gemini SDK extractor...", "model", *geminiModel)
		extractor = scanning.NewGemini(*geminiModel, option.WithUserAgent("receipt-sheets/"+version))
	case "ollama":
		slog.Info("Initializing Ollama extractor...", "url", *ollamaURL, "model", *ollamaModel)
		extractor = scanning.NewOllama(*ollamaURL, *ollamaModel)
	default:
		slog.Error("Invalid scanner type", "type", *scannerType, "valid", "gemini, gemini-sdk or ollama")
		db.Close()
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", *port)
	public := strings.TrimSuffix(*baseURL, "/")
	if public == "" {
		public = fmt.Sprintf("http://localhost:%d", *port)
	}

	// Initialize session
	session, err := receipt.NewSession(db, extractor, receipt.Config{
		Defaults: receipt.Settings{
			GeminiAPIKey:      apiKey,
			OAuthClientID:     *clientID,
			OAuthClientSecret: *clientSecret,
			SpreadsheetID:     *sheetID,
		},
		RedirectURL:   public + "/auth/callback",
		Encoder:       &scanning.Encoder{MaxDimension: *maxDimension},
		SignInTimeout: 5 * time.Minute,
	})
	if err != nil {
		slog.Error("Failed to initialize session", "error", err)
		extractor.Close()
		db.Close()
		os.Exit(1)
	}

	// Initialize server
	basicAuth := receipt.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := receipt.NewServer(session, basicAuth)

	slog.Info("Server started", "address", public)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Serve until interrupted
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := serve(ctx, server, session, addr)
	stop()
	os.Exit(code)
}

// serve runs server until ctx is done, closes session and returns the exit code
func serve(ctx context.Context, server *receipt.Server, session io.Closer, addr string) int {
	err := server.Start(ctx, addr)
	if closeErr := session.Close(); closeErr != nil {
		slog.Error("Error closing session", "error", closeErr)
	}
	if err != nil {
		slog.Error("Server error", "error", err)
		return 1
	}
	slog.Info("Shutting down...")
	return 0
}
