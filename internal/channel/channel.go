// Package channel supervises the managed replication channel to the cloud
// backend.
//
// The channel is a libSQL embedded replica: a local database file that the
// libsql connector replicates to and from a Turso primary. The engine does
// not speak a wire protocol; it configures the connector, triggers syncs,
// and projects the connector's lifecycle into events on the process bus
// (setup/import/export, each with a start time, an optional end time, and
// an optional backend-supplied error).
package channel

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tursodatabase/go-libsql"

	"github.com/speaklife/declarations/internal/events"
)

var (
	// ErrNoAccount means no cloud credentials are configured at all.
	ErrNoAccount = errors.New("no cloud account configured")
	// ErrAccountUnavailable means the cloud identity exists but is
	// missing or restricted. Terminal and user-actionable; never retried
	// automatically.
	ErrAccountUnavailable = errors.New("cloud account unavailable")
)

// Config holds the channel configuration.
type Config struct {
	// ReplicaPath is the local embedded replica file.
	ReplicaPath string
	// PrimaryURL is the libsql:// URL of the cloud primary.
	PrimaryURL string
	// AuthToken authenticates against the primary.
	AuthToken string
	// SyncInterval is how often the background loop replicates.
	SyncInterval time.Duration
	// Logger for channel activity (default: stderr logger).
	Logger *log.Logger
}

// Stats reports the outcome of one replication pass.
type Stats struct {
	// FrameNo is the replica's WAL frame position after the pass.
	FrameNo int
	// FramesSynced is how many frames moved during the pass. A non-zero
	// value on a pull means remote-origin changes landed locally.
	FramesSynced int
}

// Channel owns the embedded replica connector and its background sync loop.
type Channel struct {
	cfg Config
	bus *events.Bus

	connector *libsql.Connector
	db        *sql.DB

	httpClient *http.Client
	logger     *log.Logger

	mu      sync.Mutex
	syncing bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a channel. Connect must be called before Sync or Start.
func New(cfg Config, bus *events.Bus) *Channel {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[channel] ", log.LstdFlags)
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = time.Minute
	}
	return &Channel{
		cfg:        cfg,
		bus:        bus,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     cfg.Logger,
	}
}

// Configured reports whether cloud credentials are present.
func (c *Channel) Configured() bool {
	return c.cfg.PrimaryURL != "" && c.cfg.AuthToken != ""
}

// AccountAvailable probes the cloud identity. Returns ErrNoAccount when no
// credentials are configured, ErrAccountUnavailable when the primary
// rejects or cannot confirm them, and nil when the account is usable.
func (c *Channel) AccountAvailable(ctx context.Context) error {
	if !c.Configured() {
		return ErrNoAccount
	}

	healthURL, err := healthEndpoint(c.cfg.PrimaryURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAccountUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAccountUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAccountUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: primary rejected credentials (%s)", ErrAccountUnavailable, resp.Status)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: primary unhealthy (%s)", ErrAccountUnavailable, resp.Status)
	}
	return nil
}

// healthEndpoint rewrites a libsql:// primary URL into its HTTPS health
// check endpoint.
func healthEndpoint(primary string) (string, error) {
	u, err := url.Parse(primary)
	if err != nil {
		return "", fmt.Errorf("invalid primary URL: %w", err)
	}
	switch u.Scheme {
	case "libsql", "wss", "https":
		u.Scheme = "https"
	case "ws", "http":
		u.Scheme = "http"
	default:
		return "", fmt.Errorf("unsupported primary scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/health"
	return u.String(), nil
}

// Connect opens the embedded replica and returns its database handle.
// Emits a setup lifecycle event around the attempt.
func (c *Channel) Connect(ctx context.Context) (*sql.DB, error) {
	started := time.Now()
	c.publishEvent(events.SyncEvent{Op: events.OpSetup, StartedAt: started})

	connector, err := libsql.NewEmbeddedReplicaConnector(
		c.cfg.ReplicaPath,
		c.cfg.PrimaryURL,
		libsql.WithAuthToken(c.cfg.AuthToken),
		libsql.WithReadYourWrites(true),
	)
	ended := time.Now()
	if err != nil {
		c.publishEvent(events.SyncEvent{
			Op: events.OpSetup, StartedAt: started, EndedAt: &ended, Err: err.Error(),
		})
		return nil, fmt.Errorf("failed to open embedded replica: %w", err)
	}

	c.connector = connector
	c.db = sql.OpenDB(connector)
	if err := c.db.PingContext(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to ping embedded replica: %w", err)
	}

	c.publishEvent(events.SyncEvent{Op: events.OpSetup, StartedAt: started, EndedAt: &ended})
	c.logger.Printf("Embedded replica open at %s (primary %s)", c.cfg.ReplicaPath, c.cfg.PrimaryURL)
	return c.db, nil
}

// Sync pulls remote changes into the replica. Emits an import lifecycle
// event; publishes a remote-change signal when frames landed.
func (c *Channel) Sync(ctx context.Context) (Stats, error) {
	return c.replicate(ctx, events.OpImport)
}

// Push flushes local frames up to the primary. Same underlying replication
// pass as Sync; emitted as an export event for status projection.
func (c *Channel) Push(ctx context.Context) (Stats, error) {
	return c.replicate(ctx, events.OpExport)
}

func (c *Channel) replicate(ctx context.Context, op events.SyncOp) (Stats, error) {
	if c.connector == nil {
		return Stats{}, fmt.Errorf("channel not connected")
	}
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}

	// One replication pass at a time; the connector serializes internally
	// but overlapping event pairs would confuse the status projection.
	c.mu.Lock()
	if c.syncing {
		c.mu.Unlock()
		return Stats{}, nil
	}
	c.syncing = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.syncing = false
		c.mu.Unlock()
	}()

	started := time.Now()
	c.publishEvent(events.SyncEvent{Op: op, StartedAt: started})

	rep, err := c.connector.Sync()
	ended := time.Now()
	if err != nil {
		c.publishEvent(events.SyncEvent{Op: op, StartedAt: started, EndedAt: &ended, Err: err.Error()})
		return Stats{}, fmt.Errorf("replication failed: %w", err)
	}

	stats := Stats{FrameNo: rep.FrameNo, FramesSynced: rep.FramesSynced}
	c.publishEvent(events.SyncEvent{Op: op, StartedAt: started, EndedAt: &ended})

	if op == events.OpImport && stats.FramesSynced > 0 {
		c.bus.Publish(events.TopicRemoteChange, stats)
		c.logger.Printf("Remote changes applied: %d frames", stats.FramesSynced)
	}
	return stats, nil
}

// Start runs the periodic replication loop until Close or ctx cancellation.
func (c *Channel) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := c.Sync(ctx); err != nil && ctx.Err() == nil {
					c.logger.Printf("Periodic sync failed: %v", err)
				}
			}
		}
	}()
}

// Close stops the sync loop and releases the replica.
func (c *Channel) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	var errs []error
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close replica db: %w", err))
		}
		c.db = nil
	}
	if c.connector != nil {
		if err := c.connector.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close connector: %w", err))
		}
		c.connector = nil
	}
	return errors.Join(errs...)
}

func (c *Channel) publishEvent(ev events.SyncEvent) {
	if c.bus != nil {
		c.bus.Publish(events.TopicSync, ev)
	}
}
