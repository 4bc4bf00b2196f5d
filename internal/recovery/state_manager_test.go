package recovery

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeguard/internal/domain"
)

func newTestStateManager(t *testing.T, traderID string) (*StateManager, *fakeClock) {
	t.Helper()
	clock := newFakeClock(time.Unix(1_700_000_000, 0).UTC())
	return NewStateManager(traderID, t.TempDir(), clock, testLogger()), clock
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	clock := newFakeClock(time.Unix(1_700_000_000, 0).UTC())
	logger := testLogger()

	m1 := NewStateManager("trader-001", dir, clock, logger)
	m1.StartRecovery()
	m1.IncrementPositionsRecovered(2)
	m1.SetIndicatorsWarmed()
	require.NoError(t, m1.SaveState())

	// The temp sibling never survives a successful save.
	_, err := os.Stat(m1.StateFilePath() + ".tmp")
	assert.True(t, os.IsNotExist(err))

	m2 := NewStateManager("trader-001", dir, clock, logger)
	loaded, err := m2.LoadState()
	require.NoError(t, err)
	require.True(t, loaded)

	st := m2.State()
	assert.Equal(t, domain.RecoveryInProgress, st.Status)
	assert.Equal(t, 2, st.PositionsRecovered)
	assert.True(t, st.IndicatorsWarmed)
	assert.False(t, st.OrdersReconciled)
	assert.Equal(t, clock.NowNanos(), st.TsStarted)
}

func TestSaveStateFileShape(t *testing.T) {
	m, clock := newTestStateManager(t, "trader-001")
	m.StartRecovery()
	require.NoError(t, m.SaveState())

	raw, err := os.ReadFile(m.StateFilePath())
	require.NoError(t, err)

	var doc struct {
		TraderID string `json:"trader_id"`
		Status   string `json:"status"`
		TsSaved  int64  `json:"ts_saved"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "trader-001", doc.TraderID)
	assert.Equal(t, string(domain.RecoveryInProgress), doc.Status)
	assert.Equal(t, clock.NowNanos(), doc.TsSaved)
}

func TestLoadStateMissingFile(t *testing.T) {
	m, _ := newTestStateManager(t, "trader-001")

	loaded, err := m.LoadState()

	require.NoError(t, err)
	assert.False(t, loaded)
	assert.Equal(t, domain.RecoveryPending, m.State().Status)
}

func TestLoadStateCorruptFile(t *testing.T) {
	m, _ := newTestStateManager(t, "trader-001")
	require.NoError(t, os.WriteFile(m.StateFilePath(), []byte("{not json"), 0o644))

	loaded, err := m.LoadState()

	require.Error(t, err)
	assert.False(t, loaded)
	assert.Contains(t, err.Error(), "decode state file")
	assert.Equal(t, domain.RecoveryPending, m.State().Status)
}

func TestStateFilePathSanitized(t *testing.T) {
	m, _ := newTestStateManager(t, "trader/1 x")

	assert.Equal(t, "recovery_state_trader_1_x.json", filepath.Base(m.StateFilePath()))
}

func TestTerminalTransitionsGuarded(t *testing.T) {
	m, _ := newTestStateManager(t, "trader-001")
	m.StartRecovery()

	st := m.CompleteRecovery()
	require.Equal(t, domain.RecoveryCompleted, st.Status)

	st = m.FailRecovery("too late")
	assert.Equal(t, domain.RecoveryCompleted, st.Status)
	assert.Empty(t, st.ErrorMessage)

	st = m.TimeoutRecovery()
	assert.Equal(t, domain.RecoveryCompleted, st.Status)
}

func TestTimeoutSetsFixedMessage(t *testing.T) {
	m, _ := newTestStateManager(t, "trader-001")
	m.StartRecovery()

	st := m.TimeoutRecovery()

	assert.Equal(t, domain.RecoveryTimeout, st.Status)
	assert.Equal(t, domain.TimeoutMessage, st.ErrorMessage)
}

func TestDeleteStateFileIdempotent(t *testing.T) {
	m, _ := newTestStateManager(t, "trader-001")
	require.NoError(t, m.DeleteStateFile())

	m.StartRecovery()
	require.NoError(t, m.SaveState())
	require.NoError(t, m.DeleteStateFile())

	_, err := os.Stat(m.StateFilePath())
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, m.DeleteStateFile())
}

func TestResetState(t *testing.T) {
	m, _ := newTestStateManager(t, "trader-001")
	m.StartRecovery()
	m.IncrementPositionsRecovered(3)
	m.CompleteRecovery()

	st := m.ResetState()

	assert.Equal(t, domain.RecoveryPending, st.Status)
	assert.Zero(t, st.PositionsRecovered)
	assert.False(t, st.IsComplete())
}
