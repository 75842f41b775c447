package nats

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	natsgo "github.com/nats-io/nats.go"
)

// Config is the environment driven configuration of the NATS adapters.
type Config struct {
	URL           string        `env:"NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	MaxReconnects int           `env:"NATS_MAX_RECONNECTS" envDefault:"3"`
	ReconnectWait time.Duration `env:"NATS_RECONNECT_WAIT" envDefault:"2s"`

	StreamName      string        `env:"ESK_NATS_STREAM" envDefault:"ESK_ES"`
	SubjectPrefix   string        `env:"ESK_NATS_SUBJECT_PREFIX" envDefault:"esk.es"`
	LedgerBucket    string        `env:"ESK_NATS_LEDGER_BUCKET" envDefault:"esk_es_commits"`
	LedgerTTL       time.Duration `env:"ESK_NATS_LEDGER_TTL"`
	DuplicateWindow time.Duration `env:"ESK_NATS_DUPLICATE_WINDOW" envDefault:"2m"`
	MemoryStorage   bool          `env:"ESK_NATS_MEMORY_STORAGE"`
}

// ConfigFromEnv reads Config from the process environment.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func (c Config) Connector() Connector {
	return ConnectURL(
		c.URL,
		natsgo.MaxReconnects(c.MaxReconnects),
		natsgo.ReconnectWait(c.ReconnectWait),
	)
}

func (c Config) EventStoreConfig(log *slog.Logger) EventStoreConfig {
	return EventStoreConfig{
		Connect:         c.Connector(),
		Log:             log,
		SubjectPrefix:   c.SubjectPrefix,
		StreamName:      c.StreamName,
		MemoryStorage:   c.MemoryStorage,
		DuplicateWindow: c.DuplicateWindow,
		LedgerBucket:    c.LedgerBucket,
		LedgerTTL:       c.LedgerTTL,
	}
}
