package browser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/soccerdata/tmfetch/internal/identity"
)

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	r := New(Config{}, identity.NewPool(identity.Options{}), nil)
	require.Equal(t, 30*time.Second, r.cfg.DefaultTimeout)
	require.NotNil(t, r.logger)
}

func TestSettleActionsDependOnSimulation(t *testing.T) {
	t.Parallel()

	pool := identity.NewPool(identity.Options{})

	plain := New(Config{}, pool, nil)
	require.Len(t, plain.settleActions(), 1)

	simulated := New(Config{BehavioralSimulation: true}, pool, nil)
	require.Greater(t, len(simulated.settleActions()), 1)
}

func TestRandomViewportComesFromKnownSet(t *testing.T) {
	t.Parallel()

	for i := 0; i < 50; i++ {
		vp := randomViewport()
		require.Contains(t, viewports, vp)
	}
}

func TestStealthScriptCoversAutomationSignals(t *testing.T) {
	t.Parallel()

	require.Contains(t, stealthScript, "webdriver")
	require.Contains(t, stealthScript, "plugins")
	require.Contains(t, stealthScript, "languages")
}
