package dashboard

import (
	"context"
	"log"
	"sync"

	"github.com/speaklife/declarations/internal/events"
	"github.com/speaklife/declarations/internal/schema"
	"github.com/speaklife/declarations/internal/status"
	"github.com/speaklife/declarations/internal/store"
)

// Bridge feeds process events into the dashboard: every sync or import
// event rebroadcasts the projected status, and record mutations refresh
// the stats panel.
type Bridge struct {
	server  *Server
	bus     *events.Bus
	monitor *status.Monitor
	store   *store.Store
	logger  *log.Logger

	cancels []func()
	wg      sync.WaitGroup
	done    chan struct{}
}

// NewBridge wires the bus and monitor to a dashboard server.
func NewBridge(server *Server, bus *events.Bus, monitor *status.Monitor, st *store.Store, logger *log.Logger) *Bridge {
	if logger == nil {
		logger = log.Default()
	}
	return &Bridge{
		server:  server,
		bus:     bus,
		monitor: monitor,
		store:   st,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start subscribes and begins forwarding. The initial status and stats go
// out immediately so a fresh dashboard is never blank.
func (b *Bridge) Start() {
	b.broadcastStatus()
	b.broadcastStats()

	topics := []string{
		events.TopicSync,
		events.TopicRemoteChange,
		events.TopicImportStarted,
		events.TopicImportCompleted,
		events.TopicImportFailed,
		events.TopicEntryDeleted,
	}
	for _, topic := range topics {
		ch, cancel := b.bus.Subscribe(topic)
		b.cancels = append(b.cancels, cancel)

		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			for {
				select {
				case <-b.done:
					return
				case ev, ok := <-ch:
					if !ok {
						return
					}
					b.forward(ev)
				}
			}
		}()
	}
}

// Stop unsubscribes and waits for the forwarding goroutines.
func (b *Bridge) Stop() {
	close(b.done)
	for _, cancel := range b.cancels {
		cancel()
	}
	b.wg.Wait()
}

func (b *Bridge) forward(ev events.Event) {
	switch ev.Topic {
	case events.TopicSync:
		b.server.BroadcastData(MessageTypeSyncEvent, ev.Payload)
		b.broadcastStatus()
	case events.TopicRemoteChange:
		b.server.BroadcastData(MessageTypeRemoteChange, ev.Payload)
		b.broadcastStatus()
		b.broadcastStats()
	case events.TopicImportStarted, events.TopicImportCompleted, events.TopicImportFailed:
		b.broadcastStatus()
		b.broadcastStats()
	case events.TopicEntryDeleted:
		b.broadcastStats()
	}
}

func (b *Bridge) broadcastStatus() {
	if b.monitor == nil {
		return
	}
	b.server.BroadcastData(MessageTypeSyncStatus, SyncStatusData{
		Status:      string(b.monitor.Status()),
		Description: b.monitor.StatusDescription(),
	})
}

func (b *Bridge) broadcastStats() {
	if b.store == nil {
		return
	}
	ctx := context.Background()
	journals, err := b.store.CountEntries(ctx, schema.KindJournal)
	if err != nil {
		b.logger.Printf("Failed to count journals: %v", err)
		return
	}
	affirmations, err := b.store.CountEntries(ctx, schema.KindAffirmation)
	if err != nil {
		b.logger.Printf("Failed to count affirmations: %v", err)
		return
	}
	b.server.BroadcastData(MessageTypeStats, StatsData{
		Journals:     journals,
		Affirmations: affirmations,
		Total:        journals + affirmations,
	})
}
