// Package daemon runs the background sync process that ties the core
// together.
//
// The daemon:
//  1. Recovers queue entries stranded in processing by a previous crash
//  2. Starts the network monitor and wires offline-to-online transitions
//     to exactly one sync request each
//  3. Runs the sync engine worker and the realtime subscriber
//  4. Watches the photo spool directory and ingests captured images
//  5. Periodically prunes completed queue entries
//  6. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/fieldside/claimsync/internal/bus"
	"github.com/fieldside/claimsync/internal/dashboard"
	"github.com/fieldside/claimsync/internal/engine"
	"github.com/fieldside/claimsync/internal/netmon"
	"github.com/fieldside/claimsync/internal/orchestrator"
	"github.com/fieldside/claimsync/internal/queue"
	"github.com/fieldside/claimsync/internal/realtime"
	"github.com/fieldside/claimsync/internal/store"
	"github.com/fsnotify/fsnotify"
)

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is the periodic sync trigger (default: 1m).
	SyncInterval time.Duration

	// PruneInterval is how often completed queue entries are pruned
	// (default: 1h).
	PruneInterval time.Duration

	// PruneRetention is how long completed entries are kept (default: 24h).
	PruneRetention time.Duration

	// SpoolDir, when set, is watched for captured photo files.
	SpoolDir string

	// DebounceInterval batches rapid spool writes together (default: 500ms).
	DebounceInterval time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     time.Minute,
		PruneInterval:    time.Hour,
		PruneRetention:   24 * time.Hour,
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates the long-running sync components.
type Daemon struct {
	store      *store.DB
	queue      *queue.Queue
	engine     *engine.Engine
	monitor    *netmon.Monitor
	orch       *orchestrator.Orchestrator
	subscriber *realtime.Subscriber
	dash       *dashboard.Server
	handler    *dashboard.Handler
	bus        *bus.Bus
	config     *Config

	watcher      *fsnotify.Watcher
	spoolQueue   map[string]time.Time // filepath -> last event time
	spoolQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Deps are the collaborators the daemon composes. Store, Queue, Engine,
// Monitor, Orchestrator, and Bus are required; Subscriber and Dashboard are
// optional.
type Deps struct {
	Store        *store.DB
	Queue        *queue.Queue
	Engine       *engine.Engine
	Monitor      *netmon.Monitor
	Orchestrator *orchestrator.Orchestrator
	Bus          *bus.Bus
	Subscriber   *realtime.Subscriber
	Dashboard    *dashboard.Server
}

// New creates a Daemon instance.
func New(deps Deps, config *Config) (*Daemon, error) {
	if deps.Store == nil || deps.Queue == nil || deps.Engine == nil ||
		deps.Monitor == nil || deps.Orchestrator == nil || deps.Bus == nil {
		return nil, fmt.Errorf("store, queue, engine, monitor, orchestrator, and bus are required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = time.Minute
	}
	if config.PruneInterval <= 0 {
		config.PruneInterval = time.Hour
	}
	if config.PruneRetention <= 0 {
		config.PruneRetention = 24 * time.Hour
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = 500 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	d := &Daemon{
		store:      deps.Store,
		queue:      deps.Queue,
		engine:     deps.Engine,
		monitor:    deps.Monitor,
		orch:       deps.Orchestrator,
		subscriber: deps.Subscriber,
		dash:       deps.Dashboard,
		bus:        deps.Bus,
		config:     config,
		spoolQueue: make(map[string]time.Time),
	}

	if deps.Dashboard != nil {
		d.handler = dashboard.NewHandler(deps.Dashboard, deps.Engine, config.Logger)
	}

	return d, nil
}

// Start begins daemon operation. Blocks until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	d.ctx, d.cancel = context.WithCancel(ctx)
	defer d.cancel()

	// Crash-recovery sweep: entries stranded in processing are retried.
	// Remote upserts are idempotent, so replaying them is safe.
	recovered, err := d.queue.RecoverStale(d.ctx)
	if err != nil {
		return fmt.Errorf("crash recovery sweep failed: %w", err)
	}
	if recovered > 0 {
		d.config.Logger.Printf("Recovered %d stale queue entries", recovered)
	}

	// Offline->online transitions trigger exactly one sync pass.
	d.monitor.Subscribe(func(online bool) {
		d.bus.Publish(bus.Event{Type: bus.EventSyncStateChanged})
		if online {
			d.engine.RequestSync()
		}
	})
	d.monitor.Start(d.ctx)
	defer d.monitor.Stop()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.engine.Run(d.ctx, d.config.SyncInterval)
	}()

	if d.subscriber != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.subscriber.Run(d.ctx); err != nil && d.ctx.Err() == nil {
				d.config.Logger.Printf("Realtime subscriber stopped: %v", err)
			}
		}()
	}

	if d.dash != nil {
		if err := d.dash.Start(); err != nil {
			d.shutdownWorkers()
			return fmt.Errorf("failed to start status server: %w", err)
		}
		defer func() {
			if err := d.dash.Stop(); err != nil {
				d.config.Logger.Printf("Error stopping status server: %v", err)
			}
		}()

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.handler.Run(d.ctx, d.bus)
		}()
	}

	if d.config.SpoolDir != "" {
		if err := d.startSpoolWatcher(); err != nil {
			d.shutdownWorkers()
			return err
		}
		defer d.watcher.Close()
	}

	d.wg.Add(1)
	go d.pruneLoop()

	// Kick an initial pass so queued offline work drains promptly.
	d.engine.RequestSync()

	<-d.ctx.Done()
	d.config.Logger.Println("Shutdown signal received")

	d.cancel()
	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// shutdownWorkers stops goroutines already launched when startup fails
// partway, so Start never returns while workers still touch the store.
func (d *Daemon) shutdownWorkers() {
	d.cancel()
	d.wg.Wait()
}

// pruneLoop periodically deletes old completed queue entries.
func (d *Daemon) pruneLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			n, err := d.queue.PruneCompleted(d.ctx, d.config.PruneRetention)
			if err != nil {
				d.config.Logger.Printf("Error pruning queue: %v", err)
				continue
			}
			if n > 0 {
				d.config.Logger.Printf("Pruned %d completed queue entries", n)
			}

			expired, err := d.queue.ExpiredCount(d.ctx)
			if err == nil && expired > 0 {
				d.config.Logger.Printf("Warning: %d queue entries older than %s still unsynced",
					expired, queue.ExpiryAge)
			}
		}
	}
}
