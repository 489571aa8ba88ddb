// Package fleet runs document jobs through a bounded worker pool fed by a
// shared FIFO queue.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/toricodesthings/compound-association-service/internal/logging"
	"github.com/toricodesthings/compound-association-service/internal/reconcile"
	"github.com/toricodesthings/compound-association-service/internal/types"
)

type State string

const (
	StateNone       State = ""
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateDone       State = "done"
)

// Outcome qualifies a Done job.
type Outcome string

const (
	OutcomeAssociated    Outcome = "associated"
	OutcomeNotAssociated Outcome = "not_associated"
	OutcomeFailed        Outcome = "failed"
)

// Processor runs one job to completion. A nil error means the document was
// associated; an error wrapping reconcile.ErrNotAssociated means the gate
// tripped; anything else is a failure.
type Processor interface {
	Process(ctx context.Context, job types.DocumentJob) error
}

type ProcessorFunc func(ctx context.Context, job types.DocumentJob) error

func (f ProcessorFunc) Process(ctx context.Context, job types.DocumentJob) error { return f(ctx, job) }

// Event is one state transition. Outcome and Err are set only on Done.
type Event struct {
	Job     types.DocumentJob
	From    State
	To      State
	Outcome Outcome
	Err     error
	At      time.Time
}

// Observer is called synchronously on every transition, from the goroutine
// that caused it.
type Observer interface {
	Observe(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

type Summary struct {
	Submitted     int `json:"submitted"`
	Rejected      int `json:"rejected"`
	Done          int `json:"done"`
	Associated    int `json:"associated"`
	NotAssociated int `json:"notAssociated"`
	Failed        int `json:"failed"`
}

// Status is the last known state of a submitted job.
type Status struct {
	Job     types.DocumentJob `json:"job"`
	State   State             `json:"state"`
	Outcome Outcome           `json:"outcome,omitempty"`
	Error   string            `json:"error,omitempty"`
}

type Options struct {
	Workers int
}

type Fleet struct {
	proc      Processor
	workers   int
	observers []Observer
	log       logging.Logger
	q         *queue

	startOnce sync.Once
	wg        sync.WaitGroup
	// watcher is closed once the goroutine tying ctx to the queue returns.
	watcher chan struct{}

	mu       sync.Mutex
	summary  Summary
	statuses map[string]*Status
}

func New(proc Processor, opts Options, log logging.Logger, observers ...Observer) *Fleet {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Fleet{
		proc:      proc,
		workers:   opts.Workers,
		observers: observers,
		log:       logging.OrNop(log).Named("fleet"),
		q:         newQueue(),
		statuses:  make(map[string]*Status),
		watcher:   make(chan struct{}),
	}
}

// Start launches the workers. Cancelling ctx closes the queue; jobs already
// queued still run, with the cancelled context, and reach Done. The context
// watcher also exits when the queue is closed by Close.
func (f *Fleet) Start(ctx context.Context) {
	f.startOnce.Do(func() {
		go func() {
			defer close(f.watcher)
			select {
			case <-ctx.Done():
				f.q.close()
			case <-f.q.done:
			}
		}()
		for i := 0; i < f.workers; i++ {
			f.wg.Add(1)
			go f.work(ctx, i)
		}
	})
}

// Submit queues a job, assigning an ID when it has none.
func (f *Fleet) Submit(job types.DocumentJob) (types.DocumentJob, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	err := f.q.push(job, func() {
		f.mu.Lock()
		f.summary.Submitted++
		f.statuses[job.ID] = &Status{Job: job, State: StatePending}
		f.mu.Unlock()
		f.emit(Event{Job: job, From: StateNone, To: StatePending})
	})
	if err != nil {
		f.mu.Lock()
		f.summary.Rejected++
		f.mu.Unlock()
		return job, err
	}
	return job, nil
}

// Close stops accepting jobs.
func (f *Fleet) Close() { f.q.close() }

// Wait blocks until the queue is closed and every queued job is Done.
func (f *Fleet) Wait() Summary {
	f.wg.Wait()
	return f.Summary()
}

func (f *Fleet) Summary() Summary {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.summary
}

func (f *Fleet) Status(id string) (Status, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.statuses[id]
	if !ok {
		return Status{}, false
	}
	return *s, true
}

// Pending reports how many jobs are queued but not yet claimed.
func (f *Fleet) Pending() int { return f.q.len() }

// Run processes jobs in batch mode and returns once all are Done. Rejected
// jobs are logged and counted.
func (f *Fleet) Run(ctx context.Context, jobs []types.DocumentJob) Summary {
	f.Start(ctx)
	for _, job := range jobs {
		if _, err := f.Submit(job); err != nil {
			f.log.Warn("job rejected",
				logging.String("job", job.ID),
				logging.String("document", job.FilePath),
				logging.Err(err))
		}
	}
	f.Close()
	s := f.Wait()
	f.log.Info("fleet finished",
		logging.Int("submitted", s.Submitted),
		logging.Int("associated", s.Associated),
		logging.Int("notAssociated", s.NotAssociated),
		logging.Int("failed", s.Failed),
		logging.Int("rejected", s.Rejected))
	return s
}

func (f *Fleet) work(ctx context.Context, worker int) {
	defer f.wg.Done()
	for {
		job, ok := f.q.claim()
		if !ok {
			return
		}
		f.setState(job.ID, StateInProgress, "", nil)
		f.emit(Event{Job: job, From: StatePending, To: StateInProgress})

		start := time.Now()
		err := f.run(ctx, job)
		outcome := classify(err)
		f.finish(job, outcome, err)
		f.log.Debug("job done",
			logging.Int("worker", worker),
			logging.String("job", job.ID),
			logging.String("outcome", string(outcome)),
			logging.Duration("elapsed", time.Since(start)))
	}
}

func (f *Fleet) run(ctx context.Context, job types.DocumentJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing job: %v", r)
		}
	}()
	return f.proc.Process(ctx, job)
}

func classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeAssociated
	case errors.Is(err, reconcile.ErrNotAssociated):
		return OutcomeNotAssociated
	default:
		return OutcomeFailed
	}
}

func (f *Fleet) finish(job types.DocumentJob, outcome Outcome, err error) {
	f.mu.Lock()
	f.summary.Done++
	switch outcome {
	case OutcomeAssociated:
		f.summary.Associated++
	case OutcomeNotAssociated:
		f.summary.NotAssociated++
	default:
		f.summary.Failed++
	}
	f.mu.Unlock()

	f.setState(job.ID, StateDone, outcome, err)
	f.emit(Event{Job: job, From: StateInProgress, To: StateDone, Outcome: outcome, Err: err})
}

func (f *Fleet) setState(id string, st State, outcome Outcome, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.statuses[id]
	if !ok {
		return
	}
	s.State = st
	s.Outcome = outcome
	if err != nil {
		s.Error = err.Error()
	}
}

func (f *Fleet) emit(e Event) {
	e.At = time.Now()
	for _, o := range f.observers {
		o.Observe(e)
	}
}

// LogObserver logs every transition at debug level.
func LogObserver(log logging.Logger) Observer {
	log = logging.OrNop(log).Named("fleet")
	return ObserverFunc(func(e Event) {
		fields := []logging.Field{
			logging.String("job", e.Job.ID),
			logging.String("document", e.Job.FilePath),
			logging.String("from", string(e.From)),
			logging.String("to", string(e.To)),
		}
		if e.Outcome != "" {
			fields = append(fields, logging.String("outcome", string(e.Outcome)))
		}
		if e.Err != nil {
			fields = append(fields, logging.Err(e.Err))
		}
		log.Debug("job transition", fields...)
	})
}
