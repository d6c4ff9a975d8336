package config

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrMissingConfig marks configuration the process refuses to start without.
var ErrMissingConfig = errors.New("required configuration missing")

// Validate checks the effective configuration. The returned error wraps
// ErrMissingConfig when a required value is absent.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Discord.Token) == "" {
		missing = append(missing, "DISCORD_TOKEN")
	}
	if strings.TrimSpace(c.Channels.Watch) == "" {
		missing = append(missing, "WATCH_CHANNEL_ID")
	}
	if strings.TrimSpace(c.Channels.Stats) == "" {
		missing = append(missing, "STATS_CHANNEL_ID")
	}
	if len(missing) > 0 {
		return errors.Wrapf(ErrMissingConfig, "%s must be set", strings.Join(missing, ", "))
	}

	for name, id := range map[string]string{
		"channels.watch": c.Channels.Watch,
		"channels.stats": c.Channels.Stats,
		"channels.log":   c.Channels.Log,
	} {
		if id == "" {
			continue
		}
		if _, err := strconv.ParseUint(id, 10, 64); err != nil {
			return errors.Newf("%s: channel id %q is not a snowflake", name, id)
		}
	}
	return c.ValidateStorage()
}

// ValidateStorage checks only the storage section. Offline CLI commands
// need a store but no chat credentials.
func (c *Config) ValidateStorage() error {
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "sqlite", "sqlite3", "file":
		if strings.TrimSpace(c.Storage.Path) == "" {
			return errors.Newf("storage.path is required when storage.driver=%s", c.Storage.Driver)
		}
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return errors.Wrap(ErrMissingConfig, "DATABASE_URL (storage.dsn) is required when storage.driver=postgres")
		}
	default:
		return errors.Newf("unknown storage.driver: %s", c.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("poster.send_timeout", c.Poster.SendTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("commands.timeout", c.Commands.Timeout); err != nil {
		return err
	}
	return nil
}
