package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/docscan/internal/acquire"
	"github.com/zombor/docscan/internal/preprocess"
	"github.com/zombor/docscan/internal/recognition"
	"github.com/zombor/docscan/internal/recognition/gemini"
	"github.com/zombor/docscan/internal/recognition/ollama"
	"github.com/zombor/docscan/internal/recognition/tesseract"
	"github.com/zombor/docscan/internal/scan"
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

	fs := ff.NewFlagSet("docscan")
	var (
		port         = fs.IntLong("port", 8080, "HTTP server port")
		dbPath       = fs.StringLong("db", "docscan.db", "Database file path")
		storagePath  = fs.StringLong("storage", "./scans", "Storage directory for original files")
		engineType   = fs.StringLong("engine", "tesseract", "Recognition engine: 'tesseract', 'gemini' or 'ollama'")
		lang         = fs.StringLong("lang", tesseract.DefaultLanguages, "Script hint / Tesseract languages, joined with '+'")
		tessdata     = fs.StringLong("tessdata", "", "Directory with Tesseract traineddata files (default: system)")
		geminiKey    = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel  = fs.StringLong("gemini-model", gemini.DefaultModel, "Google Gemini model name")
		ollamaURL    = fs.StringLong("ollama-url", ollama.DefaultURL, "Ollama API base URL")
		ollamaModel  = fs.StringLong("ollama-model", ollama.DefaultModel, "Ollama vision model name (e.g., llava, qwen2.5vl)")
		cameraURL    = fs.StringLong("camera-url", "", "Snapshot URL of a network camera (optional)")
		minWidth     = fs.IntLong("min-width", preprocess.DefaultMinWidth, "Minimum page width in pixels after resize")
		maxDimension = fs.IntLong("max-dimension", preprocess.DefaultMaxDimension, "Maximum page dimension in pixels after resize")
		claheTiles   = fs.IntLong("clahe-tiles", preprocess.DefaultTiles, "Local contrast grid size (tiles per side)")
		claheClip    = fs.Float64Long("clahe-clip", preprocess.DefaultClipFactor, "Local contrast clip factor")
		authUser     = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass     = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		debug        = fs.BoolLong("debug", "Log pipeline stages at debug level")
		showVersion  = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("DOCSCAN"),
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
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config{
		port:        *port,
		dbPath:      *dbPath,
		storagePath: *storagePath,
		engine:      *engineType,
		lang:        *lang,
		tessdata:    *tessdata,
		geminiKey:   *geminiKey,
		geminiModel: *geminiModel,
		ollamaURL:   *ollamaURL,
		ollamaModel: *ollamaModel,
		cameraURL:   *cameraURL,
		pipeline: preprocess.Config{
			MinWidth:      *minWidth,
			MaxDimension:  *maxDimension,
			Tiles:         *claheTiles,
			ClipFactor:    *claheClip,
			SharpenAmount: preprocess.DefaultSharpenAmount,
		},
		auth: scan.BasicAuth{Username: *authUser, Password: *authPass},
	}); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

type config struct {
	port        int
	dbPath      string
	storagePath string
	engine      string
	lang        string
	tessdata    string
	geminiKey   string
	geminiModel string
	ollamaURL   string
	ollamaModel string
	cameraURL   string
	pipeline    preprocess.Config
	auth        scan.BasicAuth
}

// newEngine builds the configured recognition engine, uninitialized
func newEngine(cfg config) (recognition.Engine, error) {
	switch cfg.engine {
	case "tesseract":
		return tesseract.New(tesseract.Options{TessdataPrefix: cfg.tessdata}), nil
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := cfg.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		return gemini.New(apiKey, cfg.geminiModel)
	case "ollama":
		return ollama.New(cfg.ollamaURL, cfg.ollamaModel), nil
	default:
		return nil, fmt.Errorf("invalid engine type %q, valid: tesseract, gemini or ollama", cfg.engine)
	}
}

func run(ctx context.Context, cfg config) error {
	slog.Info("Initializing database...")
	db, err := scan.NewBoltDB(cfg.dbPath)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	slog.Info("Initializing storage...")
	store, err := scan.NewLocalStorage(cfg.storagePath)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	engine, err := newEngine(cfg)
	if err != nil {
		return err
	}
	session := recognition.NewSession(engine, cfg.lang, slog.Default())
	defer func() {
		if err := session.Destroy(); err != nil {
			slog.Warn("Failed to release recognition engine", "error", err)
		}
	}()
	// Requests that arrive before the model is loaded wait on the session
	slog.Info("Loading recognition engine...", "engine", engine.Name(), "script", cfg.lang)
	session.Start(ctx)

	pipeline := preprocess.Standard(slog.Default(), cfg.pipeline)

	var camera acquire.Camera
	if cfg.cameraURL != "" {
		slog.Info("Camera capture enabled", "url", cfg.cameraURL)
		camera = acquire.NewHTTPCamera(cfg.cameraURL)
	}

	service := scan.NewService(scan.Deps{
		DB:           db,
		Storage:      store,
		Preprocessor: pipeline,
		Recognizer:   session,
		Camera:       camera,
	})
	server := scan.NewServer(service, cfg.auth)

	addr := fmt.Sprintf(":%d", cfg.port)
	if cfg.auth.Username != "" || cfg.auth.Password != "" {
		slog.Info("Basic auth enabled", "user", cfg.auth.Username)
	}

	if err := server.Start(ctx, addr); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	slog.Info("Shutting down...")
	return nil
}
