package realtime

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/fieldside/claimsync/internal/model"
)

// Subscriber maintains the WebSocket change stream and feeds decoded events
// to the bridge. The stream is scoped to one owner and partitioned by table.
type Subscriber struct {
	url    string
	bridge *Bridge
	logger *log.Logger

	backoffMin time.Duration
	backoffMax time.Duration
}

// SubscriberConfig configures the realtime subscriber.
type SubscriberConfig struct {
	// BaseURL is the backend root, e.g. "https://api.example.com".
	BaseURL string

	// Owner scopes the change stream to one account.
	Owner string

	// Tables limits the stream; defaults to every syncable table.
	Tables []string

	// Logger for subscriber activity (default: stderr logger).
	Logger *log.Logger

	// BackoffMin/BackoffMax bound the reconnect backoff
	// (defaults: 1s and 30s).
	BackoffMin time.Duration
	BackoffMax time.Duration
}

// NewSubscriber creates a subscriber that merges events through bridge.
func NewSubscriber(bridge *Bridge, config SubscriberConfig) (*Subscriber, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if config.Owner == "" {
		return nil, fmt.Errorf("owner is required")
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[realtime] ", log.LstdFlags)
	}
	if config.BackoffMin == 0 {
		config.BackoffMin = time.Second
	}
	if config.BackoffMax == 0 {
		config.BackoffMax = 30 * time.Second
	}

	tables := config.Tables
	if len(tables) == 0 {
		tables = model.Tables()
	}

	endpoint, err := streamURL(config.BaseURL, config.Owner, tables)
	if err != nil {
		return nil, err
	}

	return &Subscriber{
		url:        endpoint,
		bridge:     bridge,
		logger:     config.Logger,
		backoffMin: config.BackoffMin,
		backoffMax: config.BackoffMax,
	}, nil
}

// streamURL builds the ws:// or wss:// subscription endpoint.
func streamURL(base, owner string, tables []string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/realtime"

	q := u.Query()
	q.Set("owner", owner)
	q.Set("tables", strings.Join(tables, ","))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Run connects to the change stream and merges events until ctx is
// cancelled. Connection drops are retried with exponential backoff; a
// malformed event is logged and skipped, never fatal.
func (s *Subscriber) Run(ctx context.Context) error {
	backoff := s.backoffMin

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.runConn(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.logger.Printf("Stream disconnected: %v (reconnecting in %s)", err, backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > s.backoffMax {
			backoff = s.backoffMax
		}
	}
}

// runConn handles one connection lifetime.
func (s *Subscriber) runConn(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial change stream: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	s.logger.Printf("Change stream connected")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("change stream read: %w", err)
		}

		ev, err := DecodeEvent(data)
		if err != nil {
			s.logger.Printf("Warning: skipping bad change event: %v", err)
			continue
		}

		if err := s.bridge.Apply(ctx, ev); err != nil {
			s.logger.Printf("Warning: failed to merge %s on %s/%s: %v",
				ev.Operation, ev.Table, ev.RecordID(), err)
		}
	}
}
