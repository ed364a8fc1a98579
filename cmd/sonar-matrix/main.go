// ABOUTME: Entry point for the sonar-matrix responder bot
// ABOUTME: Answers Matrix room messages through Perplexity Sonar via OpenRouter

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/sonar-matrix/internal/bot"
	"github.com/2389/sonar-matrix/internal/config"
	"github.com/2389/sonar-matrix/internal/store"
)

const banner = `
                                             _        _
  ___  ___  _ __   __ _ _ __     _ __ ___   __ _| |_ _ __(_)_  __
 / __|/ _ \| '_ \ / _' | '__|___| '_ ' _ \ / _' | __| '__| \ \/ /
 \__ \ (_) | | | | (_| | | |____| | | | | | (_| | |_| |  | |>  <
 |___/\___/|_| |_|\__,_|_|      |_| |_| |_|\__,_|\__|_|  |_/_/\_\
`

// getConfigPath returns the path to the bot config file.
// Priority: SONAR_MATRIX_CONFIG env var > XDG_CONFIG_HOME/sonar-matrix/config.toml > ~/.config/sonar-matrix/config.toml
func getConfigPath() string {
	if envPath := os.Getenv("SONAR_MATRIX_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "sonar-matrix", "config.toml")
}

// getDataPath returns the path to the bot data directory.
// Priority: XDG_DATA_HOME/sonar-matrix > ~/.local/share/sonar-matrix
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "sonar-matrix")
}

func main() {
	// Check for init command
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Best-effort .env load so ${VAR} references in the config resolve
	// during development. A missing file is fine.
	_ = godotenv.Load()

	configPath := getConfigPath()
	dataPath := getDataPath()

	// Ensure data directory exists
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging.Level)
	slog.SetDefault(logger)

	// Print startup info
	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Homeserver: %s\n", cfg.Matrix.Homeserver)
	green.Print("    ▶ ")
	fmt.Printf("User:       %s\n", cfg.Matrix.UserID)
	green.Print("    ▶ ")
	fmt.Printf("Model:      %s\n", cfg.OpenRouter.Model)
	green.Print("    ▶ ")
	if cfg.Matrix.DeviceID != "" {
		fmt.Println("Encryption: enabled")
	} else {
		fmt.Println("Encryption: disabled")
	}
	fmt.Println()

	// Setup graceful shutdown context first - all operations should respect it
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Open the sync-token store so restarts resume instead of replaying
	syncStore, err := store.NewSQLiteStore(filepath.Join(dataPath, "sync.db"))
	if err != nil {
		return fmt.Errorf("opening sync store: %w", err)
	}
	defer syncStore.Close()

	// Create bot
	b, err := bot.New(cfg, syncStore, logger)
	if err != nil {
		return fmt.Errorf("creating bot: %w", err)
	}

	// Setup encryption (only if a device ID is configured)
	if cfg.Matrix.DeviceID != "" {
		cryptoMgr, err := SetupCrypto(ctx, b.Client(), cfg.Matrix.UserID, cfg.Matrix.RecoveryKey, dataPath, logger)
		if err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		defer cryptoMgr.Close()
	} else {
		logger.Info("encryption disabled (no device ID)")
	}

	// Optional metrics listener
	if cfg.Metrics.Listen != "" {
		startMetrics(ctx, cfg.Metrics.Listen, logger)
	}

	// Run bot
	logger.Info("starting bot")
	return b.Run(ctx)
}

// startMetrics serves /metrics on the configured address until the context
// is cancelled.
func startMetrics(ctx context.Context, listen string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: listen, Handler: mux}

	go func() {
		logger.Info("metrics listener started", "addr", listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func runInit() error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println("    Interactive Setup")
	fmt.Println("    -----------------")
	fmt.Println()

	configPath := getConfigPath()

	// Check if config already exists
	if _, err := os.Stat(configPath); err == nil {
		yellow.Printf("    Config already exists at %s\n", configPath)
		fmt.Print("    Overwrite? [y/N]: ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Println("    Aborted.")
			return nil
		}
		fmt.Println()
	}

	reader := bufio.NewReader(os.Stdin)

	// Gather config values
	green.Print("    ▶ ")
	fmt.Print("Matrix homeserver URL [https://matrix.org]: ")
	homeserver, _ := reader.ReadString('\n')
	homeserver = strings.TrimSpace(homeserver)
	if homeserver == "" {
		homeserver = "https://matrix.org"
	}

	green.Print("    ▶ ")
	fmt.Print("Matrix user ID (e.g. @fxivity:matrix.org): ")
	userID, _ := reader.ReadString('\n')
	userID = strings.TrimSpace(userID)

	green.Print("    ▶ ")
	fmt.Print("Matrix access token: ")
	accessToken, _ := reader.ReadString('\n')
	accessToken = strings.TrimSpace(accessToken)

	green.Print("    ▶ ")
	fmt.Print("Matrix device ID (optional, enables E2EE): ")
	deviceID, _ := reader.ReadString('\n')
	deviceID = strings.TrimSpace(deviceID)

	green.Print("    ▶ ")
	fmt.Print("Matrix recovery key (optional, for cross-signing): ")
	recoveryKey, _ := reader.ReadString('\n')
	recoveryKey = strings.TrimSpace(recoveryKey)

	green.Print("    ▶ ")
	fmt.Print("OpenRouter API key: ")
	apiKey, _ := reader.ReadString('\n')
	apiKey = strings.TrimSpace(apiKey)

	green.Print("    ▶ ")
	fmt.Printf("Model [%s]: ", config.DefaultModel)
	model, _ := reader.ReadString('\n')
	model = strings.TrimSpace(model)
	if model == "" {
		model = config.DefaultModel
	}

	green.Print("    ▶ ")
	fmt.Printf("Bot name [%s]: ", config.DefaultName)
	name, _ := reader.ReadString('\n')
	name = strings.TrimSpace(name)
	if name == "" {
		name = config.DefaultName
	}

	// Generate config
	cfgText := fmt.Sprintf(`# sonar-matrix configuration
# Generated by sonar-matrix init

[matrix]
homeserver = "%s"
user_id = "%s"
access_token = "%s"
`, homeserver, userID, accessToken)

	if deviceID != "" {
		cfgText += fmt.Sprintf("device_id = \"%s\"\n", deviceID)
	}
	if recoveryKey != "" {
		cfgText += fmt.Sprintf("recovery_key = \"%s\"\n", recoveryKey)
	}

	cfgText += fmt.Sprintf(`
[openrouter]
api_key = "%s"
model = "%s"
# max_tokens = 1024
# temperature = 0.7

[bot]
# Addressing name: the bot answers messages mentioning this name,
# "!sonar <query>" commands ("%s"), direct messages, and replies
# to its own answers.
name = "%s"
# Only answer senders matching these patterns (empty = everyone)
allowed_users = []

[metrics]
# listen = "127.0.0.1:9090"

[logging]
level = "info"
`, apiKey, model, bot.SonarCommand.Help, name)

	// Ensure config directory exists
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write config file
	if err := os.WriteFile(configPath, []byte(cfgText), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Println()
	green.Printf("    ✓ Config written to %s\n", configPath)
	fmt.Println()
	fmt.Println("    Next steps:")
	fmt.Println("    1. Run: sonar-matrix")
	fmt.Println()

	return nil
}
