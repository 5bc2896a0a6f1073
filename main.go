package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"oraguard/abuse"
	"oraguard/config"
	"oraguard/notify"
	"oraguard/store"
)

var version = "dev"

// DecisionInput is one line of input from the chat-handling layer.
type DecisionInput struct {
	UserID    int64  `json:"user_id"`
	Message   string `json:"message"`
	TargetKey string `json:"target_key"`
	IP        string `json:"ip,omitempty"`
}

// DecisionOutput is the engine's verdict for one message.
type DecisionOutput struct {
	UserID                 int64  `json:"user_id"`
	Action                 string `json:"action"`
	Msg                    string `json:"msg,omitempty"`
	BannedMinutesRemaining int    `json:"banned_minutes_remaining,omitempty"`
}

var (
	currentEngine *abuse.Engine
	engineMutex   sync.RWMutex
)

func buildEngine(cfg *config.Config) (*abuse.Engine, store.Store, error) {
	db, err := store.NewBadgerStore(cfg.DB.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.Notify.Enabled {
		notifier = notify.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.Timeout)
	}

	engine := abuse.NewEngine(&cfg.Engine, db, notifier, nil)
	return engine, db, nil
}

func main() {
	showVersion := flag.Bool("version", false, "Show version and exit")
	configPath := flag.String("config", "./config.toml", "Path to the configuration file.")
	useDefaults := flag.Bool("use-defaults", false, "Run with internal defaults if the config file is missing.")
	validateConfig := flag.Bool("validate", false, "Validate the configuration file and exit.")
	dryRun := flag.Bool("dry-run", false, "Log what would be denied without actually denying it.")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}
	if *validateConfig {
		if err := validateConfiguration(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Configuration is INVALID: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Configuration is VALID.")
		return
	}
	if err := runApp(*configPath, *useDefaults, *dryRun); err != nil {
		fmt.Fprintf(os.Stderr, "Application run failed: %v\n", err)
		os.Exit(1)
	}
}

func runApp(configPath string, useDefaults bool, dryRun bool) error {
	cfg, defaultsUsed, err := config.Load(configPath, useDefaults)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.Level.ToSlogLevel()}))
	slog.SetDefault(logger)
	if dryRun {
		slog.Warn("Engine is running in DRY-RUN mode.")
	}
	slog.Info("Abuse engine starting up", "version", version, "config_path", configPath, "using_defaults", defaultsUsed)

	engine, db, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	engineMutex.Lock()
	currentEngine = engine
	engineMutex.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-shutdownChan
		slog.Info("Received shutdown signal, shutting down gracefully...")
		cancel()
	}()

	onReload := func(newCfg *config.Config) {
		slog.Info("Rebuilding engine with new configuration...")
		newEngine, _, err := buildEngine(newCfg)
		if err != nil {
			slog.Error("Failed to build new engine on config reload, keeping old one", "error", err)
			return
		}

		engineMutex.Lock()
		currentEngine = newEngine
		engineMutex.Unlock()
		slog.Info("Engine rebuilt successfully.")
	}
	go config.StartWatcher(ctx, configPath, onReload, 0)

	return processRequests(ctx, os.Stdin, os.Stdout, dryRun)
}

func processRequests(ctx context.Context, r io.Reader, w io.Writer, dryRun bool) error {
	linesChan := make(chan []byte)
	errChan := make(chan error, 1)
	encoder := json.NewEncoder(w)

	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lineCopy := make([]byte, len(scanner.Bytes()))
			copy(lineCopy, scanner.Bytes())
			linesChan <- lineCopy
		}
		if err := scanner.Err(); err != nil {
			errChan <- err
		}
		close(linesChan)
	}()

	slog.Info("Ready to process decision requests from stdin...")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-linesChan:
			if !ok {
				select {
				case err := <-errChan:
					return err
				default:
				}
				slog.Info("Input stream closed, shutting down.")
				return nil
			}

			if len(line) == 0 {
				continue
			}
			var input DecisionInput
			if err := json.Unmarshal(line, &input); err != nil {
				slog.Warn("Failed to decode decision input JSON", "error", err, "raw_line_prefix", string(line))
				continue
			}

			engineMutex.RLock()
			engine := currentEngine
			engineMutex.RUnlock()

			decision := engine.Evaluate(ctx, input.UserID, input.Message, input.TargetKey)

			if !decision.Allowed && dryRun {
				slog.Info("Dry-run: message would be denied",
					"user_id", input.UserID, "ip", input.IP, "reason", decision.Reason)
				decision = abuse.Decision{Allowed: true}
			}

			out := DecisionOutput{
				UserID:                 input.UserID,
				Action:                 decision.Action(),
				Msg:                    decision.Reason,
				BannedMinutesRemaining: decision.BannedMinutesRemaining,
			}
			if err := encoder.Encode(out); err != nil {
				if errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EPIPE) {
					return nil
				}
				slog.Error("Failed to write decision to stdout", "error", err)
			}
		}
	}
}

func validateConfiguration(configPath string) error {
	slog.SetDefault(slog.New(slog.NewJSONHandler(io.Discard, nil)))
	fmt.Printf("Validating configuration file: %s\n", configPath)
	cfg, _, err := config.Load(configPath, false)
	if err != nil {
		return err
	}
	_, db, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	return db.Close()
}
