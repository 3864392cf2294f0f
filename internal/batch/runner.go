// Package batch fans a set of independent (instrument, day) replays out
// across a supervised worker pool, grounded on the teacher's
// internal/worker.go WorkerPool, adapted from "handle one TCP connection"
// to "replay one instrument-day" (spec §5's "embarrassingly parallel ...
// on separate workers").
package batch

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"lobreplay/internal/replay"
)

const taskChanSize = 100

// Job is one independent instrument-day replay task.
type Job struct {
	ISIN           string
	Date, Opening, Closing time.Time
	Tapes          replay.Tapes
}

// Outcome pairs a job with its replay reconciliation, or a fatal error if
// the run itself failed (spec §7 "missing input file: fatal for that
// (instrument, day); driver records and skips").
type Outcome struct {
	Job   Job
	JobID uuid.UUID
	Run   *replay.Run
	Rec   replay.Reconciliation
	Err   error
}

// Runner executes a slice of Jobs across n supervised workers.
type Runner struct {
	n int
}

func NewRunner(n int) *Runner {
	if n < 1 {
		n = 1
	}
	return &Runner{n: n}
}

// Run drains jobs across the pool and returns one Outcome per job, in
// completion order. It returns the underlying tomb's error only if the
// pool itself was killed (e.g. by context cancellation upstream); per-job
// failures are carried in each Outcome instead.
func (r *Runner) Run(jobs []Job) ([]Outcome, error) {
	var t tomb.Tomb
	tasks := make(chan Job, taskChanSize)
	outcomes := make(chan Outcome, len(jobs))

	log.Info().Int("workers", r.n).Int("jobs", len(jobs)).Msg("batch: starting pool")

	var wg sync.WaitGroup
	for i := 0; i < r.n; i++ {
		wg.Add(1)
		t.Go(func() error {
			defer wg.Done()
			return r.worker(&t, tasks, outcomes)
		})
	}

	go func() {
		for _, j := range jobs {
			select {
			case tasks <- j:
			case <-t.Dying():
				return
			}
		}
		close(tasks)
	}()

	wg.Wait()
	close(outcomes)

	out := make([]Outcome, 0, len(jobs))
	for o := range outcomes {
		out = append(out, o)
	}

	if err := t.Err(); err != nil && err != tomb.ErrStillAlive {
		return out, err
	}
	return out, nil
}

func (r *Runner) worker(t *tomb.Tomb, tasks <-chan Job, outcomes chan<- Outcome) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case job, ok := <-tasks:
			if !ok {
				return nil
			}
			outcomes <- r.runJob(job)
		}
	}
}

func (r *Runner) runJob(job Job) Outcome {
	run := replay.NewRun(job.ISIN, job.Date, job.Opening, job.Closing, job.Tapes)
	log.Debug().Str("isin", job.ISIN).Time("date", job.Date).Str("run_id", run.ID.String()).Msg("batch: replaying instrument-day")

	if err := run.Execute(job.Tapes, 0, nil); err != nil {
		return Outcome{Job: job, JobID: run.ID, Run: run, Err: err}
	}
	return Outcome{Job: job, JobID: run.ID, Run: run, Rec: run.Result(job.Tapes)}
}
