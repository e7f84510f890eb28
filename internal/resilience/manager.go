package resilience

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"sms-bridge/internal/config"
	"sms-bridge/internal/model"
	"sms-bridge/internal/service"
	"sms-bridge/internal/util"
)

// State is the fast-store availability state.
type State int

const (
	StateNormal State = iota
	StateDegraded
	StateFallbackActive
	StateRecovering
)

var stateNames = map[State]string{
	StateNormal:         "normal",
	StateDegraded:       "degraded",
	StateFallbackActive: "fallback_active",
	StateRecovering:     "recovering",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Pinger probes the fast store with a bounded timeout.
type Pinger interface {
	Ping(ctx context.Context, timeout time.Duration) error
}

// Replayer pushes a captured SMS back through the validation pipeline.
type Replayer interface {
	ReplaySMS(ctx context.Context, sms *model.PendingSMS) error
}

// Manager watches the fast store and drives the outage state machine. On a
// sustained outage it snapshots live verification state to the durable
// store; once the store is back it restores the snapshot and replays every
// SMS captured in the meantime.
type Manager struct {
	pinger       Pinger
	dumper       model.StateDumper
	powerStore   model.PowerDownStore
	pendingStore model.PendingSMSStore
	replayer     Replayer
	auditor      *service.Auditor
	cfg          config.ResilienceConfig

	mu             sync.RWMutex
	state          State
	consecFails    int
	consecOKs      int
	lastTransition time.Time
}

func NewManager(cfg *config.Config, pinger Pinger, dumper model.StateDumper,
	powerStore model.PowerDownStore, pendingStore model.PendingSMSStore,
	replayer Replayer, auditor *service.Auditor) *Manager {

	return &Manager{
		pinger:         pinger,
		dumper:         dumper,
		powerStore:     powerStore,
		pendingStore:   pendingStore,
		replayer:       replayer,
		auditor:        auditor,
		cfg:            cfg.Resilience,
		state:          StateNormal,
		lastTransition: time.Now().UTC(),
	}
}

// State returns the current availability state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// LastTransition returns when the current state was entered.
func (m *Manager) LastTransition() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastTransition
}

// FallbackActive reports whether request processing must be refused or
// captured. It stays true through recovery: replay must finish before new
// traffic touches the restored state.
func (m *Manager) FallbackActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateFallbackActive || m.state == StateRecovering
}

// Run probes the fast store until the context is canceled.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	util.Info("Resilience manager started",
		zap.Duration("probe_interval", m.cfg.ProbeInterval),
		zap.Int("failure_threshold", m.cfg.FailureThreshold),
		zap.Int("success_threshold", m.cfg.SuccessThreshold))
	for {
		select {
		case <-ctx.Done():
			util.Info("Resilience manager stopped")
			return ctx.Err()
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Manager) probe(ctx context.Context) {
	err := m.pinger.Ping(ctx, m.cfg.ProbeTimeout)
	if err != nil {
		m.onProbeFailure(ctx, err)
	} else {
		m.onProbeSuccess(ctx)
	}
}

func (m *Manager) onProbeFailure(ctx context.Context, probeErr error) {
	m.mu.Lock()
	m.consecOKs = 0
	m.consecFails++
	fails := m.consecFails
	state := m.state
	m.mu.Unlock()

	util.Warn("Fast-store probe failed",
		zap.Int("consecutive", fails),
		zap.String("state", state.String()),
		zap.Error(probeErr))

	switch state {
	case StateNormal:
		m.transition(StateDegraded)
	case StateDegraded:
		if fails >= m.cfg.FailureThreshold {
			m.enterFallback(ctx)
		}
	case StateRecovering:
		// Store dropped out mid-recovery; back to fallback.
		m.transition(StateFallbackActive)
	}
}

func (m *Manager) onProbeSuccess(ctx context.Context) {
	m.mu.Lock()
	m.consecFails = 0
	m.consecOKs++
	oks := m.consecOKs
	state := m.state
	m.mu.Unlock()

	switch state {
	case StateDegraded:
		m.transition(StateNormal)
	case StateFallbackActive:
		if oks >= m.cfg.SuccessThreshold {
			m.runRecovery(ctx)
		}
	}
}

// enterFallback snapshots what the fast store still serves. Per-key dump
// failures are expected here; whatever survives is persisted.
func (m *Manager) enterFallback(ctx context.Context) {
	m.transition(StateFallbackActive)

	records, failures := m.dumper.DumpState(ctx)
	for _, err := range failures {
		util.Warn("Partial state dump", zap.Error(err))
	}

	if err := m.powerStore.SaveRecords(ctx, records); err != nil {
		util.Error("Failed to persist fast-store snapshot", zap.Error(err))
	}

	m.auditor.Emit(ctx, model.EventFallbackEntered, map[string]interface{}{
		"records":       len(records),
		"dump_failures": len(failures),
	})
}

// runRecovery restores the snapshot, replays captured SMS, and returns to
// normal operation. Replayed rows are deleted only after a successful pass
// so a crash mid-recovery replays them again; the pipeline tolerates that.
func (m *Manager) runRecovery(ctx context.Context) {
	m.transition(StateRecovering)

	if err := m.Recover(ctx); err != nil {
		util.Error("Recovery failed; staying in fallback", zap.Error(err))
		m.transition(StateFallbackActive)
		return
	}

	m.mu.Lock()
	m.consecOKs = 0
	m.mu.Unlock()
	m.transition(StateNormal)

	m.auditor.Emit(ctx, model.EventFallbackRecovered, nil)
}

// Recover replays the persisted snapshot and captured SMS into the fast
// store. Also called at startup to clear leftovers from an earlier outage.
func (m *Manager) Recover(ctx context.Context) error {
	records, err := m.powerStore.LoadRecords(ctx)
	if err != nil {
		return err
	}
	if len(records) > 0 {
		if err := m.dumper.RestoreState(ctx, records); err != nil {
			return err
		}
		if err := m.powerStore.DeleteAll(ctx); err != nil {
			return err
		}
		util.Info("Snapshot replayed", zap.Int("records", len(records)))
	}

	pending, err := m.pendingStore.LoadAll(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	replayed := make([]string, 0, len(pending))
	for _, sms := range pending {
		if err := m.replayer.ReplaySMS(ctx, sms); err != nil {
			util.Warn("Failed to replay captured SMS",
				zap.String("message_id", sms.MessageID),
				zap.Error(err))
			continue
		}
		replayed = append(replayed, sms.MessageID)
	}
	if err := m.pendingStore.Delete(ctx, replayed); err != nil {
		return err
	}

	util.Info("Captured SMS replayed",
		zap.Int("replayed", len(replayed)),
		zap.Int("captured", len(pending)))
	return nil
}

func (m *Manager) transition(next State) {
	m.mu.Lock()
	prev := m.state
	if prev == next {
		m.mu.Unlock()
		return
	}
	m.state = next
	m.lastTransition = time.Now().UTC()
	m.mu.Unlock()

	util.Info("Availability state changed",
		zap.String("from", prev.String()),
		zap.String("to", next.String()))
}
