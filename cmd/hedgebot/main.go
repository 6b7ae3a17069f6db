// Command hedgebot runs the Uniswap v3 liquidity + Hyperliquid hedge bot. It
// loads configuration, validates it, sets up signal handling, and starts the
// application in the configured mode.
//
// The encrypt-key subcommand writes an encrypted key file for
// hyperliquid.encrypted_key_path.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/hedgebot/internal/app"
	"github.com/alanyoungcy/hedgebot/internal/config"
	"github.com/alanyoungcy/hedgebot/internal/crypto"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "encrypt-key" {
		if err := encryptKey(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt-key: %v\n", err)
			os.Exit(1)
		}
		return
	}

	configPath := flag.String("config", "config.toml", "path to configuration file")
	once := flag.Bool("once", false, "run a single cycle and exit")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("hedge bot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)

	var opts []app.Option
	if *once {
		opts = append(opts, app.WithOnce())
	}
	application := app.New(cfg, logger, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err = application.Run(ctx)
	stop()
	application.Close()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error", slog.String("error", err.Error()))
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Info("hedge bot stopped")
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// encryptKey reads HEDGEBOT_HYPERLIQUID_PRIVATE_KEY and HEDGEBOT_HYPERLIQUID_KEY_PASSWORD and writes
// the encrypted key file to -out.
func encryptKey(args []string) error {
	fs := flag.NewFlagSet("encrypt-key", flag.ContinueOnError)
	out := fs.String("out", "hedgebot-key.json", "output path for the encrypted key file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	key := os.Getenv("HEDGEBOT_HYPERLIQUID_PRIVATE_KEY")
	password := os.Getenv("HEDGEBOT_HYPERLIQUID_KEY_PASSWORD")
	if key == "" || password == "" {
		return errors.New("HEDGEBOT_HYPERLIQUID_PRIVATE_KEY and HEDGEBOT_HYPERLIQUID_KEY_PASSWORD must be set")
	}

	data, err := crypto.EncryptKey(key, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	addr, err := crypto.KeyAddress(key)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %s for %s\n", *out, addr)
	return nil
}
