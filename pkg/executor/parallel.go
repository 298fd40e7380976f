package executor

import (
	"context"
	"errors"
	"sync"

	"github.com/devicelab-dev/stepbind/pkg/core"
	"github.com/devicelab-dev/stepbind/pkg/logger"
	"github.com/devicelab-dev/stepbind/pkg/trace"
)

// runParallel runs jobs on a pool of workers pulling from one queue. Every
// job gets its own TestRunner, so each scenario owns its feature and
// scenario contexts and binding instances; only the sealed registry is shared.
func (r *Runner) runParallel(ctx context.Context, jobs []job) ([]core.ScenarioResult, error) {
	workQueue := make(chan job, len(jobs))
	for _, j := range jobs {
		workQueue <- j
	}
	close(workQueue)

	results := make([]core.ScenarioResult, len(jobs))
	var (
		resultsMu sync.Mutex
		errs      []error
		wg        sync.WaitGroup
		stop      stopFlag
	)

	workers := r.config.Parallelism
	if workers > len(jobs) {
		workers = len(jobs)
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			logger.Debug("worker %d started", id)

			for j := range workQueue {
				if ctx.Err() != nil {
					stop.set("run cancelled")
				}
				if reason := stop.get(); reason != "" {
					resultsMu.Lock()
					results[j.index] = skippedResult(j, reason)
					resultsMu.Unlock()
					continue
				}

				res, err := r.runIsolated(ctx, j, len(jobs))
				if err != nil {
					stop.set("run aborted")
					resultsMu.Lock()
					errs = append(errs, err)
					results[j.index] = skippedResult(j, "run aborted")
					resultsMu.Unlock()
					continue
				}

				resultsMu.Lock()
				results[j.index] = *res
				resultsMu.Unlock()

				if r.shouldStop(*res) {
					stop.set("run stopped after a failed scenario")
				}
			}
			logger.Debug("worker %d finished", id)
		}(w)
	}

	wg.Wait()
	return results, errors.Join(errs...)
}

// runIsolated runs one job inside its own feature context and with its own
// tracer, so concurrent scenarios never interleave step events.
func (r *Runner) runIsolated(ctx context.Context, j job, total int) (*core.ScenarioResult, error) {
	var (
		tracer trace.Tracer
		flush  func()
	)
	if r.config.NewTracer != nil {
		tracer = r.config.NewTracer()
	} else if _, nop := r.config.Steps.Tracer.(trace.Nop); !nop && r.config.Steps.Tracer != nil {
		buf := trace.NewRecorder()
		tracer = buf
		flush = func() {
			r.traceMu.Lock()
			defer r.traceMu.Unlock()
			buf.Replay(r.config.Steps.Tracer)
		}
	}

	tr := r.newTestRunner(tracer)
	if err := tr.OnFeatureStart(j.feature.Info, r.culture(j.feature)); err != nil {
		return nil, err
	}
	res, err := r.runJob(ctx, tr, j, total, flush)
	if err != nil {
		return nil, err
	}
	return res, tr.OnFeatureEnd()
}
