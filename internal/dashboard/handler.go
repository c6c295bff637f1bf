package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/fieldside/claimsync/internal/bus"
	"github.com/fieldside/claimsync/internal/engine"
)

// Handler subscribes to the event bus and turns bus events into dashboard
// broadcasts. It bridges between the sync core and the WebSocket server.
type Handler struct {
	server *Server
	engine *engine.Engine
	logger *log.Logger
}

// NewHandler creates an event handler connected to a dashboard server.
func NewHandler(server *Server, eng *engine.Engine, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{server: server, engine: eng, logger: logger}
}

// Run consumes bus events until ctx is cancelled. Blocks.
func (h *Handler) Run(ctx context.Context, eventBus *bus.Bus) {
	events, cancel := eventBus.Subscribe(64)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.handle(ctx, ev)
		}
	}
}

func (h *Handler) handle(ctx context.Context, ev bus.Event) {
	switch ev.Type {
	case bus.EventRecordInserted:
		h.broadcastRecordChange(ev, "inserted")
	case bus.EventRecordUpdated:
		h.broadcastRecordChange(ev, "updated")
	case bus.EventRecordDeleted:
		h.broadcastRecordChange(ev, "deleted")
	case bus.EventSyncStateChanged:
		h.broadcastSyncState(ctx)
	}
}

func (h *Handler) broadcastRecordChange(ev bus.Event, action string) {
	data := RecordChangeData{
		Table:    ev.Table,
		RecordID: ev.RecordID,
		Action:   action,
		Origin:   ev.Origin,
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal record change: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeRecordChange,
		Timestamp: ev.Time,
		Data:      dataJSON,
	})
}

func (h *Handler) broadcastSyncState(ctx context.Context) {
	if h.engine == nil {
		return
	}

	st, err := h.engine.Status(ctx)
	if err != nil {
		h.logger.Printf("Failed to read engine status: %v", err)
		return
	}

	stateJSON, err := json.Marshal(st)
	if err != nil {
		h.logger.Printf("Failed to marshal sync state: %v", err)
		return
	}
	h.server.Broadcast(Message{
		Type:      MessageTypeSyncState,
		Timestamp: time.Now(),
		Data:      stateJSON,
	})

	stats := QueueStatsData{
		Pending: st.PendingCount,
		Failed:  st.FailedCount,
		Expired: st.ExpiredCount,
	}
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		h.logger.Printf("Failed to marshal queue stats: %v", err)
		return
	}
	h.server.Broadcast(Message{
		Type:      MessageTypeQueueStats,
		Timestamp: time.Now(),
		Data:      statsJSON,
	})
}
