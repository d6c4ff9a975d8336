package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestParseEnvOnly(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("")
	m.SetLookup(envMap(map[string]string{
		"DISCORD_TOKEN":    "tok",
		"WATCH_CHANNEL_ID": "111",
		"STATS_CHANNEL_ID": "222",
		"LOG_CHANNEL_ID":   "0",
	}))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Channels.Log != "" {
		t.Fatalf("LOG_CHANNEL_ID=0 should mean unset, got %q", cfg.Channels.Log)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != DefaultSQLitePath {
		t.Fatalf("unexpected storage defaults: %+v", cfg.Storage)
	}
	if cfg.Commands.Prefix != "!" || cfg.Commands.ImportDefaultLimit != 500 {
		t.Fatalf("unexpected command defaults: %+v", cfg.Commands)
	}
	if !*cfg.Poster.Enabled {
		t.Fatal("poster should default to enabled")
	}
}

func TestValidateMissing(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		env     map[string]string
		missing string
	}{
		{name: "token", env: map[string]string{"WATCH_CHANNEL_ID": "1", "STATS_CHANNEL_ID": "2"}, missing: "DISCORD_TOKEN"},
		{name: "watch", env: map[string]string{"DISCORD_TOKEN": "t", "STATS_CHANNEL_ID": "2"}, missing: "WATCH_CHANNEL_ID"},
		{name: "stats zero", env: map[string]string{"DISCORD_TOKEN": "t", "WATCH_CHANNEL_ID": "1", "STATS_CHANNEL_ID": "0"}, missing: "STATS_CHANNEL_ID"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewConfigManager("")
			m.SetLookup(envMap(tt.env))
			cfg, err := m.Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			err = cfg.Validate()
			if !errors.Is(err, ErrMissingConfig) {
				t.Fatalf("Validate() = %v, want ErrMissingConfig", err)
			}
			if !strings.Contains(err.Error(), tt.missing) {
				t.Fatalf("error %q does not name %s", err, tt.missing)
			}
		})
	}
}

func TestValidateRejectsBadChannelID(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Discord:  DiscordConfig{Token: "t"},
		Channels: ChannelsConfig{Watch: "general", Stats: "2"},
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-numeric channel id")
	}
}

func TestValidatePostgresNeedsDSN(t *testing.T) {
	t.Parallel()
	cfg := &Config{Storage: StorageConfig{Driver: "postgres"}}
	cfg.ApplyDefaults()
	if err := cfg.ValidateStorage(); !errors.Is(err, ErrMissingConfig) {
		t.Fatalf("ValidateStorage() = %v, want ErrMissingConfig", err)
	}
}

func TestParseYAMLWithEnvOverride(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
discord:
  token: from-file
channels:
  watch: "100"
  stats: "200"
storage:
  driver: file
  path: ./data/executions
poster:
  send_timeout: 5s
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManager(path)
	m.SetLookup(envMap(map[string]string{"DISCORD_TOKEN": "from-env"}))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Discord.Token != "from-env" {
		t.Fatalf("env should override file, got %q", cfg.Discord.Token)
	}
	if cfg.Storage.Driver != "file" || cfg.Storage.Path != "./data/executions" {
		t.Fatalf("unexpected storage: %+v", cfg.Storage)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"discord":{"token":"x"},"slack":{}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManager(path)
	m.SetLookup(envMap(nil))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationOrDefault("x", "", 3); err != nil || d != 3 {
		t.Fatalf("default not applied: %v %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("expected error for negative duration")
	}
	if _, err := ParseDurationField("x", "soon"); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestDriverNameIsCaseInsensitive(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := "storage:\n  driver: SQLite\n  path: ./executions.db\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManager(path)
	m.SetLookup(envMap(nil))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("driver = %q, want sqlite", cfg.Storage.Driver)
	}
	if err := cfg.ValidateStorage(); err != nil {
		t.Fatalf("ValidateStorage: %v", err)
	}

	raw := &Config{Storage: StorageConfig{Driver: " File ", Path: "x"}}
	if err := raw.ValidateStorage(); err != nil {
		t.Fatalf("ValidateStorage without defaults: %v", err)
	}
}

func TestWatchWithoutFile(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := NewConfigManager("").Watch(ctx); err != nil {
		t.Fatalf("Watch() = %v, want nil", err)
	}
}

func writeLevel(t *testing.T, path, level string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("logging:\n  level: "+level+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
}

// awaitReload rewrites the file until a config is published. Writes are
// repeated because the watcher may not be registered yet.
func awaitReload(t *testing.T, sub <-chan *Config, path, level string) *Config {
	t.Helper()
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(400 * time.Millisecond)
	defer tick.Stop()
	writeLevel(t, path, level)
	for {
		select {
		case cfg := <-sub:
			return cfg
		case <-tick.C:
			writeLevel(t, path, level)
		case <-deadline:
			t.Fatalf("no reload published for level %s", level)
			return nil
		}
	}
}

func expectNoReload(t *testing.T, sub <-chan *Config) {
	t.Helper()
	select {
	case cfg := <-sub:
		t.Fatalf("unexpected reload published: level=%s driver=%s", cfg.Logging.Level, cfg.Storage.Driver)
	case <-time.After(800 * time.Millisecond):
	}
}

func TestWatchPublishesReloads(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeLevel(t, path, "info")

	m := NewConfigManager(path)
	m.SetLookup(envMap(map[string]string{
		"DISCORD_TOKEN":    "tok",
		"WATCH_CHANNEL_ID": "111",
		"STATS_CHANNEL_ID": "222",
		"DATABASE_PATH":    filepath.Join(t.TempDir(), "executions.db"),
	}))
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.Watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-errCh; err != nil {
			t.Errorf("Watch: %v", err)
		}
	})

	if cfg := awaitReload(t, sub, path, "debug"); cfg.Logging.Level != "debug" {
		t.Fatalf("reloaded level = %q, want debug", cfg.Logging.Level)
	}
	if got := m.Get().Logging.Level; got != "debug" {
		t.Fatalf("Get().Logging.Level = %q, want debug", got)
	}

	// rejected by Validate: nothing published, current config kept
	if err := os.WriteFile(path, []byte("logging:\n  level: warn\nstorage:\n  driver: nope\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	expectNoReload(t, sub)
	if got := m.Get().Storage.Driver; got != "sqlite" {
		t.Fatalf("driver after rejected reload = %q, want sqlite", got)
	}

	// same effective config as the last published one
	writeLevel(t, path, "debug")
	expectNoReload(t, sub)

	if cfg := awaitReload(t, sub, path, "error"); cfg.Logging.Level != "error" {
		t.Fatalf("reloaded level = %q, want error", cfg.Logging.Level)
	}
}
