// Package status projects low-level channel lifecycle events and bootstrap
// outcomes into a small externally consumable status value for UI
// indicators.
package status

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/speaklife/declarations/internal/events"
)

// Status is the closed set of externally visible sync states.
type Status string

const (
	StatusUnknown            Status = "unknown"
	StatusSyncing            Status = "syncing"
	StatusSynced             Status = "synced"
	StatusImporting          Status = "importing"
	StatusError              Status = "error"
	StatusAccountUnavailable Status = "accountUnavailable"
)

// Syncer is the slice of the supervisor the monitor needs for the
// RequestSync pass-through.
type Syncer interface {
	RequestImmediateSync(ctx context.Context) error
}

// Monitor subscribes to the process bus and folds events into a status.
type Monitor struct {
	bus    *events.Bus
	syncer Syncer

	// onSynced, when set, observes every recorded last-synced-at time.
	onSynced func(time.Time)

	mu           sync.RWMutex
	status       Status
	reason       string
	lastSyncedAt time.Time
	importing    bool

	cancels []func()
	wg      sync.WaitGroup
}

// New creates a monitor in the unknown state. onSynced may be nil.
func New(bus *events.Bus, syncer Syncer, onSynced func(time.Time)) *Monitor {
	return &Monitor{
		bus:      bus,
		syncer:   syncer,
		onSynced: onSynced,
		status:   StatusUnknown,
	}
}

// Start begins observing the bus. Call Close to stop.
func (m *Monitor) Start() {
	syncCh, cancelSync := m.bus.Subscribe(events.TopicSync)
	remoteCh, cancelRemote := m.bus.Subscribe(events.TopicRemoteChange)
	startedCh, cancelStarted := m.bus.Subscribe(events.TopicImportStarted)
	completedCh, cancelCompleted := m.bus.Subscribe(events.TopicImportCompleted)
	failedCh, cancelFailed := m.bus.Subscribe(events.TopicImportFailed)
	m.cancels = []func(){cancelSync, cancelRemote, cancelStarted, cancelCompleted, cancelFailed}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case ev, ok := <-syncCh:
				if !ok {
					return
				}
				if se, isSync := ev.Payload.(events.SyncEvent); isSync {
					m.applySyncEvent(se)
				}
			case _, ok := <-remoteCh:
				if !ok {
					return
				}
				m.applyRemoteChange()
			case _, ok := <-startedCh:
				if !ok {
					return
				}
				m.setImporting()
			case ev, ok := <-completedCh:
				if !ok {
					return
				}
				if done, isDone := ev.Payload.(events.ImportCompleted); isDone {
					m.applyImportCompleted(done)
				}
			case ev, ok := <-failedCh:
				if !ok {
					return
				}
				if failed, isFailed := ev.Payload.(events.ImportFailed); isFailed {
					m.applyImportFailed(failed)
				}
			}
		}
	}()
}

// Close stops observing.
func (m *Monitor) Close() {
	for _, cancel := range m.cancels {
		cancel()
	}
	m.wg.Wait()
}

func (m *Monitor) applySyncEvent(ev events.SyncEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case !ev.Ended():
		if m.importing {
			m.status = StatusImporting
		} else {
			m.status = StatusSyncing
		}
	case ev.Err != "":
		m.status = StatusError
		m.reason = ev.Err
	default:
		m.status = StatusSynced
		m.reason = ""
		m.lastSyncedAt = *ev.EndedAt
		if m.onSynced != nil {
			m.onSynced(m.lastSyncedAt)
		}
	}
}

// applyRemoteChange handles a generic remote-change signal arriving with no
// specific lifecycle event: when we only show "syncing", the landed changes
// mean the pass finished, so flip to synced opportunistically.
func (m *Monitor) applyRemoteChange() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == StatusSyncing {
		m.status = StatusSynced
	}
}

func (m *Monitor) setImporting() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.importing = true
	m.status = StatusImporting
}

func (m *Monitor) applyImportCompleted(events.ImportCompleted) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.importing = false
	m.status = StatusSynced
	m.reason = ""
}

func (m *Monitor) applyImportFailed(failed events.ImportFailed) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.importing = false
	if failed.AccountUnavailable {
		m.status = StatusAccountUnavailable
	} else {
		m.status = StatusError
	}
	m.reason = failed.Reason
}

// Status returns the current projected status.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// LastSyncedAt returns the end time of the last clean sync, zero when none.
func (m *Monitor) LastSyncedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSyncedAt
}

// StatusDescription returns human-readable status text for display.
func (m *Monitor) StatusDescription() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch m.status {
	case StatusSyncing:
		return "Syncing..."
	case StatusImporting:
		return "Downloading your declarations..."
	case StatusSynced:
		if m.lastSyncedAt.IsZero() {
			return "Synced"
		}
		return fmt.Sprintf("Synced at %s", m.lastSyncedAt.Local().Format("15:04:05"))
	case StatusError:
		return fmt.Sprintf("Sync error: %s", m.reason)
	case StatusAccountUnavailable:
		return "Cloud account unavailable - sign in to sync"
	default:
		return "Waiting for sync"
	}
}

// RequestSync passes through to the supervisor's immediate sync, setting
// the status to syncing optimistically before the real events arrive.
func (m *Monitor) RequestSync(ctx context.Context) error {
	m.mu.Lock()
	m.status = StatusSyncing
	m.mu.Unlock()
	return m.syncer.RequestImmediateSync(ctx)
}
