package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ".env")
// into the process environment. Variables that are already set win.
// Missing files are not an error: production sets real environment variables.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		_ = godotenv.Load(f)
	}
}

// envBindings maps environment variables onto config fields.
var envBindings = []struct {
	key string
	set func(c *Config, v string)
}{
	{"DISCORD_TOKEN", func(c *Config, v string) { c.Discord.Token = v }},
	{"WATCH_CHANNEL_ID", func(c *Config, v string) { c.Channels.Watch = v }},
	{"STATS_CHANNEL_ID", func(c *Config, v string) { c.Channels.Stats = v }},
	{"LOG_CHANNEL_ID", func(c *Config, v string) { c.Channels.Log = v }},
	{"LOG_LEVEL", func(c *Config, v string) { c.Logging.Level = v }},
	{"DATABASE_DRIVER", func(c *Config, v string) { c.Storage.Driver = strings.ToLower(v) }},
	{"DATABASE_PATH", func(c *Config, v string) { c.Storage.Path = v }},
	{"DATABASE_URL", func(c *Config, v string) { c.Storage.DSN = v }},
	{"METRICS_ADDR", func(c *Config, v string) {
		c.Metrics.Addr = v
		c.Metrics.Enabled = true
	}},
}

// ApplyEnv overrides c with non-empty environment variables.
//
// Deployments use "0" for unset channel ids, so "0" is treated
// as empty for the channel variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	for _, b := range envBindings {
		v, ok := lookup(b.key)
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" || (strings.HasSuffix(b.key, "_CHANNEL_ID") && v == "0") {
			continue
		}
		b.set(c, v)
	}
}
