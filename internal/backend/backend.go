// Package backend opens the event store selected by the environment, for the
// binaries in cmd/ and examples/.
package backend

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"

	"github.com/codewandler/esk-go/adapters/bolt"
	"github.com/codewandler/esk-go/adapters/nats"
	"github.com/codewandler/esk-go/core/es"
)

const (
	Memory = "memory"
	Bolt   = "bolt"
	Nats   = "nats"
)

type Config struct {
	Backend string `env:"ESK_BACKEND" envDefault:"memory"`
}

// Store is an es.EventStore that must be closed after use.
type Store interface {
	es.EventStore
	Close() error
}

type nopCloser struct{ es.EventStore }

func (nopCloser) Close() error { return nil }

// Open reads Config and the configuration of the selected backend from the
// environment and opens the store.
func Open(log *slog.Logger) (Store, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	log.Info("opening event store", slog.String("backend", cfg.Backend))

	switch cfg.Backend {
	case Memory:
		return nopCloser{es.NewInMemoryStore(es.WithLog(log))}, nil
	case Bolt:
		boltCfg, err := bolt.ConfigFromEnv()
		if err != nil {
			return nil, err
		}
		boltCfg.Log = log
		s, err := bolt.Open(boltCfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case Nats:
		natsCfg, err := nats.ConfigFromEnv()
		if err != nil {
			return nil, err
		}
		s, err := nats.NewEventStore(natsCfg.EventStoreConfig(log))
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", es.ErrInvalidConfiguration, cfg.Backend)
	}
}
