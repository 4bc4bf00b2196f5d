package recovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/alanyoungcy/tradeguard/internal/domain"
)

// stateFileUnsafe matches every character that may not appear in a state
// filename component.
var stateFileUnsafe = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// persistedState is the on-disk form of a recovery state: the state fields
// plus the owning trader and the save timestamp.
type persistedState struct {
	domain.RecoveryState
	TraderID string `json:"trader_id"`
	TsSaved  int64  `json:"ts_saved"`
}

// StateManager owns the recovery state for one trader. All transitions and
// all file access happen under one mutex; transitions delegate to the domain
// value's pure functions and replace the held value. Terminal statuses are
// never overwritten by another terminal transition.
type StateManager struct {
	traderID string
	stateDir string
	clock    domain.Clock
	logger   *slog.Logger

	mu    sync.Mutex
	state domain.RecoveryState
}

// NewStateManager creates a StateManager starting from a pending state.
func NewStateManager(traderID, stateDir string, clock domain.Clock, logger *slog.Logger) *StateManager {
	return &StateManager{
		traderID: traderID,
		stateDir: stateDir,
		clock:    clock,
		logger:   logger,
		state:    domain.NewRecoveryState(),
	}
}

// State returns a copy of the current recovery state.
func (m *StateManager) State() domain.RecoveryState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// StartRecovery begins a fresh attempt: in_progress, counters reset, start
// time recorded. Allowed from any status.
func (m *StateManager) StartRecovery() domain.RecoveryState {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = m.state.Begin(m.clock.NowNanos())
	return m.state
}

// IncrementPositionsRecovered adds n recovered positions to the counter.
func (m *StateManager) IncrementPositionsRecovered(n int) domain.RecoveryState {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = m.state.AddRecovered(n)
	return m.state
}

// SetIndicatorsWarmed marks indicator warmup as finished.
func (m *StateManager) SetIndicatorsWarmed() domain.RecoveryState {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = m.state.WithIndicatorsWarmed()
	return m.state
}

// SetOrdersReconciled marks order reconciliation as finished.
func (m *StateManager) SetOrdersReconciled() domain.RecoveryState {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = m.state.WithOrdersReconciled()
	return m.state
}

// CompleteRecovery moves the attempt to completed. A terminal status already
// in place is kept and the call is a logged no-op.
func (m *StateManager) CompleteRecovery() domain.RecoveryState {
	return m.terminal(domain.RecoveryCompleted, "")
}

// FailRecovery moves the attempt to failed, recording the message. A terminal
// status already in place is kept and the call is a logged no-op.
func (m *StateManager) FailRecovery(msg string) domain.RecoveryState {
	return m.terminal(domain.RecoveryFailed, msg)
}

// TimeoutRecovery moves the attempt to timeout with the fixed timeout
// message. A terminal status already in place is kept and the call is a
// logged no-op.
func (m *StateManager) TimeoutRecovery() domain.RecoveryState {
	return m.terminal(domain.RecoveryTimeout, "")
}

func (m *StateManager) terminal(next domain.RecoveryStatus, msg string) domain.RecoveryState {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.CanTransition(next) {
		m.logger.Warn("recovery: transition ignored, status is already terminal",
			slog.String("trader_id", m.traderID),
			slog.String("status", string(m.state.Status)),
			slog.String("requested", string(next)))
		return m.state
	}

	nowNs := m.clock.NowNanos()
	switch next {
	case domain.RecoveryCompleted:
		m.state = m.state.Complete(nowNs)
	case domain.RecoveryFailed:
		m.state = m.state.Fail(nowNs, msg)
	case domain.RecoveryTimeout:
		m.state = m.state.Timeout(nowNs)
	}
	return m.state
}

// ResetState returns the attempt to a clean pending state.
func (m *StateManager) ResetState() domain.RecoveryState {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = m.state.Reset()
	return m.state
}

// SaveState serializes the current state to the trader's state file. The
// write goes to a temp sibling first and is renamed into place so a reader
// never observes a partially written file.
func (m *StateManager) SaveState() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ps := persistedState{
		RecoveryState: m.state,
		TraderID:      m.traderID,
		TsSaved:       m.clock.NowNanos(),
	}
	data, err := json.MarshalIndent(ps, "", "  ")
	if err != nil {
		return fmt.Errorf("recovery: encode state for %q: %w", m.traderID, err)
	}

	path := m.StateFilePath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("recovery: write state file %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("recovery: replace state file %q: %w", path, err)
	}

	m.logger.Debug("recovery: state saved",
		slog.String("trader_id", m.traderID),
		slog.String("path", path),
		slog.String("status", string(m.state.Status)))
	return nil
}

// LoadState replaces the in-memory state with the persisted one. A missing
// file means no prior state and returns (false, nil); a corrupt file is an
// error.
func (m *StateManager) LoadState() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.StateFilePath()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("recovery: read state file %q: %w", path, err)
	}

	var ps persistedState
	if err := json.Unmarshal(data, &ps); err != nil {
		return false, fmt.Errorf("recovery: decode state file %q: %w", path, err)
	}

	m.state = ps.RecoveryState
	m.logger.Info("recovery: state loaded",
		slog.String("trader_id", m.traderID),
		slog.String("status", string(m.state.Status)),
		slog.Int("positions_recovered", m.state.PositionsRecovered))
	return true, nil
}

// DeleteStateFile removes the trader's state file. A missing file is not an
// error; this runs after a clean, reconciled shutdown.
func (m *StateManager) DeleteStateFile() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.StateFilePath()
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("recovery: delete state file %q: %w", path, err)
	}
	return nil
}

// StateFilePath returns the path of this trader's state file. The trader id
// is sanitized so arbitrary ids always yield a legal filename.
func (m *StateManager) StateFilePath() string {
	name := "recovery_state_" + stateFileUnsafe.ReplaceAllString(m.traderID, "_") + ".json"
	return filepath.Join(m.stateDir, name)
}
