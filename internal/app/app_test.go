package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toricodesthings/compound-association-service/internal/config"
	"github.com/toricodesthings/compound-association-service/internal/fleet"
	"github.com/toricodesthings/compound-association-service/internal/types"
)

func TestNewWiresEverything(t *testing.T) {
	t.Setenv("MISTRAL_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("CHEMNER_URL", "")

	cfg := config.Load()
	cfg.LedgerPath = filepath.Join(t.TempDir(), "jobs.db")
	cfg.OutputDir = t.TempDir()
	cfg.WorkspaceRoot = t.TempDir()

	var seen []fleet.State
	a, err := New(cfg, prometheus.NewRegistry(), nil, fleet.ObserverFunc(func(e fleet.Event) {
		seen = append(seen, e.To)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.NotNil(t, a.Metrics)
	assert.NotNil(t, a.Ledger)
	assert.True(t, a.Router.Supports("patent.pdf"))
	assert.True(t, a.Router.Supports("patent.odt"))
	assert.True(t, a.Router.Supports("table.csv"))
	assert.Len(t, a.Warnings(), 3)

	// A missing document fails in the splitter and still reaches Done.
	sum := a.Fleet.Run(context.Background(), []types.DocumentJob{{
		ID:        "missing",
		FilePath:  filepath.Join(t.TempDir(), "missing.pdf"),
		PageRange: types.PageRange{All: true},
	}})
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, []fleet.State{fleet.StatePending, fleet.StateInProgress, fleet.StateDone}, seen)

	e, err := a.Ledger.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, string(fleet.StateDone), e.State)
	assert.Equal(t, string(fleet.OutcomeFailed), e.Outcome)
}

func TestNewWithoutRegistryOrLedger(t *testing.T) {
	cfg := config.Load()
	cfg.LedgerPath = ""

	a, err := New(cfg, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, a.Metrics)
	assert.Nil(t, a.Ledger)
	assert.NoError(t, a.Close())
}
