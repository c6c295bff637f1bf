package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/fieldside/claimsync/internal/bus"
	"github.com/fieldside/claimsync/internal/engine"
	"github.com/fieldside/claimsync/internal/netmon"
	"github.com/fieldside/claimsync/internal/orchestrator"
	"github.com/fieldside/claimsync/internal/queue"
	"github.com/fieldside/claimsync/internal/store"
)

// nullBackend accepts everything; connectivity comes from the probe.
type nullBackend struct{}

func (nullBackend) Upsert(ctx context.Context, table, id string, payload json.RawMessage) error {
	return nil
}
func (nullBackend) Delete(ctx context.Context, table, id string) error { return nil }
func (nullBackend) PutObject(ctx context.Context, data []byte, contentType string) (string, error) {
	return "obj-1", nil
}
func (nullBackend) Ping(ctx context.Context) error { return errors.New("offline") }

func setupDaemon(t *testing.T, config *Config) *Daemon {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	quiet := log.New(io.Discard, "", 0)
	q := queue.New(db)
	backend := nullBackend{}
	monitor := netmon.New(backend.Ping, netmon.Config{Logger: quiet})
	eventBus := bus.New()
	eng := engine.New(db, q, backend, monitor, eventBus, quiet)
	orch := orchestrator.NewWithConfig(db, q, monitor, eng, eventBus, &orchestrator.Config{Logger: quiet})

	if config == nil {
		config = DefaultConfig()
	}
	config.Logger = quiet

	d, err := New(Deps{
		Store:        db,
		Queue:        q,
		Engine:       eng,
		Monitor:      monitor,
		Orchestrator: orch,
		Bus:          eventBus,
	}, config)
	if err != nil {
		t.Fatalf("failed to create daemon: %v", err)
	}
	return d
}

func TestStartStopsOnContextCancel(t *testing.T) {
	d := setupDaemon(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("start returned error: %v", err)
	}
}

func TestStartFailsCleanlyOnBadSpoolDir(t *testing.T) {
	d := setupDaemon(t, &Config{
		SpoolDir: filepath.Join(t.TempDir(), "does-not-exist"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := d.Start(ctx)
	if err == nil {
		t.Fatal("start with missing spool directory succeeded")
	}

	// All workers must be down when Start returns; a live engine goroutine
	// here would race the store close the caller does next.
	d.wg.Wait()
	if ctxErr := d.ctx.Err(); ctxErr == nil {
		t.Error("daemon context still live after failed start")
	}
}

func TestNewRequiresCoreDeps(t *testing.T) {
	if _, err := New(Deps{}, nil); err == nil {
		t.Error("daemon created without required dependencies")
	}
}
