package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/mvellans/tgfetch/bot"
	"github.com/mvellans/tgfetch/bot/config"
)

func main() {
	// Parse optional config path from flag
	var configFile string
	flag.StringVar(&configFile, "conf", "./config.yml", "Config file path")
	flag.Parse()

	// secrets may live in a dotfile during development
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file")
	}

	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")

	// Defaults
	v.SetDefault("telegram.token", os.Getenv("BOT_TOKEN"))
	v.SetDefault("limits.max_source_size_mb", 500)
	v.SetDefault("limits.transport_ceiling_mb", 50)
	v.SetDefault("downloads.default_resolution", 720)
	v.SetDefault("downloads.selection_timeout", "10m")
	v.SetDefault("paths.download_path", "downloads")
	v.SetDefault("paths.cookie_file", "cookies/cookies.txt")
	v.SetDefault("paths.downloader_path", "yt-dlp")
	v.SetDefault("paths.ffmpeg_path", "ffmpeg")
	v.SetDefault("credentials.refresh_url", os.Getenv("COOKIE_URL"))
	v.SetDefault("status.addr", "")

	// Env binding
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Load YAML file if exists
	if err := v.ReadInConfig(); err != nil {
		slog.Debug("using defaults")
	}

	cfg := config.Instance()
	if err := v.Unmarshal(cfg); err != nil {
		slog.Error("failed to load config", "error", err)
	}

	if err := os.MkdirAll(cfg.Paths.DownloadPath, 0o755); err != nil {
		slog.Error("failed to create download directory", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting bot",
		"max_source_size_mb", cfg.Limits.MaxSourceSizeMB,
		"transport_ceiling_mb", cfg.Limits.TransportCeilingMB,
		"cookie_refresh_configured", cfg.Credentials.RefreshURL != "",
	)

	if err := bot.Run(ctx); err != nil {
		slog.Error("bot stopped with error", "error", err)
		os.Exit(1)
	}

	slog.Info("bot exited cleanly")
}
