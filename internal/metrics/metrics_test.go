package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/toricodesthings/compound-association-service/internal/fleet"
	"github.com/toricodesthings/compound-association-service/internal/types"
)

func TestFleetObserver(t *testing.T) {
	m := New(prometheus.NewRegistry())
	job := types.DocumentJob{ID: "j"}
	t0 := time.Now()

	m.Observe(fleet.Event{Job: job, To: fleet.StatePending, At: t0})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsPending))

	m.Observe(fleet.Event{Job: job, From: fleet.StatePending, To: fleet.StateInProgress, At: t0})
	assert.Equal(t, 0.0, testutil.ToFloat64(m.jobsPending))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsActive))

	m.Observe(fleet.Event{Job: job, From: fleet.StateInProgress, To: fleet.StateDone, Outcome: fleet.OutcomeAssociated, At: t0.Add(3 * time.Second)})
	assert.Equal(t, 0.0, testutil.ToFloat64(m.jobsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsTotal.WithLabelValues("associated")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.jobDuration))
	assert.Empty(t, m.started)
}

func TestCollaboratorAndGate(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Collaborator("opsin", 10*time.Millisecond, nil)
	m.Collaborator("opsin", 20*time.Millisecond, errors.New("503"))
	m.GateEmpty([]string{"structures", "names"})
	m.GateEmpty([]string{"structures"})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.collabCalls.WithLabelValues("opsin", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.collabCalls.WithLabelValues("opsin", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.gateEmpty.WithLabelValues("structures")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.gateEmpty.WithLabelValues("names")))
}

func TestNewRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
