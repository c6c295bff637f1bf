package daemon

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/fieldside/claimsync/internal/model"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

// Photo spool ingestion. The capture layer drops image files into the spool
// directory named {claimID}--{caption}.{ext}; the daemon watches the
// directory, debounces writes, and turns each settled file into a Photo
// record through the orchestrator. The sync engine later uploads the bytes
// to object storage and upserts the metadata row.

var spoolExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".heic": true,
}

// startSpoolWatcher begins watching the spool directory.
func (d *Daemon) startSpoolWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create spool watcher: %w", err)
	}

	if err := watcher.Add(d.config.SpoolDir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch spool directory %s: %w", d.config.SpoolDir, err)
	}

	d.watcher = watcher
	d.config.Logger.Printf("Watching photo spool: %s", d.config.SpoolDir)

	d.wg.Add(2)
	go d.watchSpoolEvents()
	go d.processSpoolQueue()

	return nil
}

// watchSpoolEvents monitors filesystem events and queues spool files.
func (d *Daemon) watchSpoolEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !spoolExtensions[strings.ToLower(filepath.Ext(event.Name))] {
				continue
			}

			d.queueSpoolFile(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Spool watcher error: %v", err)
		}
	}
}

// queueSpoolFile adds a file to the spool queue with debouncing. A camera
// writing a large image produces a burst of write events; the debounce
// window lets the file settle before ingestion.
func (d *Daemon) queueSpoolFile(path string) {
	d.spoolQueueMu.Lock()
	defer d.spoolQueueMu.Unlock()

	d.spoolQueue[path] = time.Now()
}

// processSpoolQueue ingests files that have been quiet for long enough.
func (d *Daemon) processSpoolQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processSettledSpoolFiles()
		}
	}
}

func (d *Daemon) processSettledSpoolFiles() {
	d.spoolQueueMu.Lock()
	defer d.spoolQueueMu.Unlock()

	now := time.Now()
	for path, queuedAt := range d.spoolQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		delete(d.spoolQueue, path)

		if err := d.ingestSpoolFile(path); err != nil {
			d.config.Logger.Printf("Error ingesting spool file %s: %v", path, err)
		}
	}
}

// ingestSpoolFile creates a Photo record for a settled spool file.
func (d *Daemon) ingestSpoolFile(path string) error {
	claimID, caption, err := parseSpoolName(filepath.Base(path))
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	photo := &model.Photo{
		ID:          uuid.NewString(),
		ClaimID:     claimID,
		Caption:     caption,
		LocalPath:   path,
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		CreatedAt:   now,
	}

	if err := d.orch.Create(d.ctx, photo); err != nil {
		return fmt.Errorf("failed to create photo record: %w", err)
	}

	d.config.Logger.Printf("Ingested photo %s for claim %s", photo.ID, claimID)
	return nil
}

// parseSpoolName splits "{claimID}--{caption}.{ext}" into its parts. The
// caption is optional.
func parseSpoolName(name string) (claimID, caption string, err error) {
	base := strings.TrimSuffix(name, filepath.Ext(name))

	claimID, caption, found := strings.Cut(base, "--")
	if !found {
		claimID = base
	}
	if claimID == "" {
		return "", "", fmt.Errorf("spool file %q has no claim id", name)
	}
	return claimID, caption, nil
}
