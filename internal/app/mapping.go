package app

import (
	"strings"
	"time"

	"exectracker/internal/commands"
	"exectracker/internal/config"
	"exectracker/internal/notify"
	"exectracker/internal/storage"
	"exectracker/internal/telemetry"
	logx "exectracker/pkg/logx"
)

// StorageConfig maps the storage section onto storage.Config.
func StorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: busy,
	}, nil
}

func loggingConfig(cfg *config.Config) logx.Config {
	console := true
	if cfg.Logging.Console != nil {
		console = *cfg.Logging.Console
	}
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Chat.Enabled,
			ChannelID:  cfg.Channels.Log,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}

func notifyConfig(cfg *config.Config) notify.Config {
	return notify.Config{
		ChannelID:  cfg.Channels.Log,
		QueueSize:  cfg.Notifier.QueueSize,
		RatePerSec: cfg.Notifier.RatePerSec,
	}
}

func commandsConfig(cfg *config.Config) (commands.Config, error) {
	timeout, err := config.ParseDurationOrDefault("commands.timeout", cfg.Commands.Timeout, 10*time.Minute)
	if err != nil {
		return commands.Config{}, err
	}
	return commands.Config{
		Prefix:             cfg.Commands.Prefix,
		WatchChannelID:     cfg.Channels.Watch,
		ImportDefaultLimit: cfg.Commands.ImportDefaultLimit,
		ImportMaxLimit:     cfg.Commands.ImportMaxLimit,
		Timeout:            timeout,
	}, nil
}

func serverConfig(cfg *config.Config) telemetry.ServerConfig {
	return telemetry.ServerConfig{Addr: cfg.Metrics.Addr, Pprof: cfg.Metrics.Pprof}
}
