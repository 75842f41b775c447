package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caarlos0/env/v11"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/esk-go/core/es"
	"github.com/codewandler/esk-go/internal/backend"
)

// NOTE: run nats: docker run -v "/tmp/nats/jetstream:/tmp/nats/jetstream" --net=host nats:latest -js
// and start with ESK_BACKEND=nats

type config struct {
	N             int           `env:"N" envDefault:"50000"`
	BatchSize     int           `env:"B" envDefault:"1000"`
	Aggregates    int           `env:"AGGREGATES" envDefault:"1"`
	LoadAfterSave bool          `env:"LOAD_AFTER_SAVE"`
	LogLevel      slog.Level    `env:"LOG_LEVEL" envDefault:"info"`
	Timeout       time.Duration `env:"TIMEOUT" envDefault:"120s"`
}

func main() {
	var cfg config
	checkErr(env.Parse(&cfg))

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	store, err := backend.Open(log)
	checkErr(err)
	defer func() { _ = store.Close() }()

	registry := es.NewEventRegistry()
	es.RegisterEvents(registry, es.Event[NameChanged](), es.Event[EmailChanged]())

	repo := es.NewRepository(log, store, registry, es.Factory[*User](NewUser), es.WithRepoCacheLRU(1_000))
	defer repo.Close()

	fmt.Printf("Writes:     %d\n", cfg.N)
	fmt.Printf("Aggregates: %d\n", cfg.Aggregates)

	// === START ===

	log.Info("==================================")
	log.Info("Starting ...")

	var (
		startAt  = time.Now()
		runID    = gonanoid.MustGenerate("abcdefghijklmnopqrstuvwxyz0123456789", 8)
		written  atomic.Int64
		wg       sync.WaitGroup
		errsMu   sync.Mutex
		errs     []error
		lastTime = time.Now()
		lastMu   sync.Mutex
	)

	for w := range cfg.Aggregates {
		userID := fmt.Sprintf("user-%s-%d", runID, w)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := w; i < cfg.N; i += cfg.Aggregates {
				err := repo.WithTransaction(ctx, "loadtest", userID, func(u *User) error {
					return u.ChangeEmail(fmt.Sprintf("user@host-%d.com", i))
				}, es.WithCreate())
				if err == nil && cfg.LoadAfterSave {
					_, err = repo.GetByID(ctx, "loadtest", userID, 0)
				}
				if err != nil {
					errsMu.Lock()
					errs = append(errs, err)
					errsMu.Unlock()
					return
				}

				n := written.Add(1)
				if n%100 == 0 {
					print(".")
				}
				if n%int64(cfg.BatchSize) == 0 {
					lastMu.Lock()
					printBatch(cfg.BatchSize, time.Since(lastTime))
					lastTime = time.Now()
					lastMu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	checkErr(errors.Join(errs...))

	// === stats ===
	println("")
	println("==========================================")

	took := time.Since(startAt)
	runtime.GC()

	u, err := repo.GetByID(ctx, "loadtest", fmt.Sprintf("user-%s-0", runID), 0)
	checkErr(err)

	fmt.Printf("total runtime: %.3f seconds\n", took.Seconds())
	fmt.Printf("      version: %d (user-0)\n", u.GetVersion())
	fmt.Printf("avg. writes/s: %d\n", int(float64(written.Load())/took.Seconds()))
}

func printBatch(batchSize int, took time.Duration) {
	mu := getMemUsage()
	fmt.Printf(
		" | %5d events | %6d ms |  %6d events/s | (%d / %d) MiB mem (sys) |\n",
		batchSize,
		took.Milliseconds(),
		int(float64(batchSize)/took.Seconds()),
		mu.Alloc/1024/1024,
		mu.Sys/1024/1024,
	)
}

// === stats helpers ===

type MemUsage struct {
	Alloc      uint64 // bytes allocated and not yet freed (heap)
	TotalAlloc uint64 // cumulative bytes allocated
	Sys        uint64 // total bytes obtained from OS
	NumGC      uint32 // gc cycles
}

func getMemUsage() MemUsage {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemUsage{
		Alloc:      m.Alloc,
		TotalAlloc: m.TotalAlloc,
		Sys:        m.Sys,
		NumGC:      m.NumGC,
	}
}

// === Domain ===

type (
	User struct {
		es.BaseAggregate

		Name  string
		Email string
	}

	NameChanged  struct{ NewName string }
	EmailChanged struct{ NewEmail string }
)

func NewUser(id string) (*User, error) {
	u := &User{}
	if err := u.Init(u, id); err != nil {
		return nil, err
	}
	return u, nil
}

func (u *User) Handlers(r es.HandlerRegistrar) error {
	return errors.Join(
		es.On(r, func(e *NameChanged) { u.Name = e.NewName }),
		es.On(r, func(e *EmailChanged) { u.Email = e.NewEmail }),
	)
}

func (u *User) ChangeName(name string) error {
	if name == "" {
		return fmt.Errorf("name is empty")
	}
	return u.RaiseEvent(&NameChanged{NewName: name})
}

func (u *User) ChangeEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email is empty")
	}
	return u.RaiseEvent(&EmailChanged{NewEmail: email})
}

func (u *User) GetAggType() string { return "user" }

var _ es.Aggregate = (*User)(nil)

// === Helpers ===

func checkErr(err error) {
	if err != nil {
		panic(err)
	}
}
