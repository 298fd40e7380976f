package report

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/devicelab-dev/stepbind/pkg/core"
	"github.com/devicelab-dev/stepbind/pkg/logger"
)

// IndexWriter keeps report.json current while a run is in progress.
// Scenario callbacks may arrive from several workers concurrently.
type IndexWriter struct {
	mu        sync.Mutex
	outputDir string
	path      string
	outcome   core.MissingStepsOutcome
	summary   *Summary

	// Debouncing for scenario starts
	dirty bool
	timer *time.Timer
}

// NewIndexWriter creates a new IndexWriter writing under outputDir.
func NewIndexWriter(outputDir string, outcome core.MissingStepsOutcome) *IndexWriter {
	return &IndexWriter{
		outputDir: outputDir,
		path:      filepath.Join(outputDir, "report.json"),
		outcome:   outcome,
		summary: &Summary{
			Version: FormatVersion,
			Outcome: outcome,
			Verdict: StatusPending,
		},
	}
}

// Start marks the run as started.
func (w *IndexWriter) Start(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.summary.Name = name
	w.summary.StartTime = time.Now()
	w.summary.Verdict = StatusRunning
	if err := ensureDir(filepath.Join(w.outputDir, "scenarios")); err != nil {
		logger.Warn("report dir not created: %v", err)
	}
	w.flushLocked()
}

// ScenarioStarted records a scenario as running. Matches the executor's
// OnScenarioStart callback.
func (w *IndexWriter) ScenarioStarted(idx, total int, featureTitle, scenarioTitle string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.grow(max(total, idx+1))
	now := time.Now()
	w.summary.Scenarios[idx] = ScenarioEntry{
		Index:     idx,
		Feature:   featureTitle,
		Title:     scenarioTitle,
		Verdict:   StatusRunning,
		StartTime: &now,
	}
	w.dirty = true
	if w.timer == nil {
		w.timer = time.AfterFunc(100*time.Millisecond, w.flush)
	}
}

// ScenarioFinished records a finished scenario and flushes immediately.
// Matches the executor's OnScenarioEnd callback.
func (w *IndexWriter) ScenarioFinished(result core.ScenarioResult) {
	w.mu.Lock()
	defer w.mu.Unlock()

	idx := w.slotFor(&result)
	entry := BuildScenario(idx, &result, w.outcome)
	if err := writeScenario(w.outputDir, &entry); err != nil {
		logger.Warn("scenario report not written: %v", err)
	}
	entry.Steps = nil
	w.summary.Scenarios[idx] = entry
	w.flushLocked()
}

// End replaces the live entries with the final suite result.
func (w *IndexWriter) End(suite *core.SuiteResult) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	final := Build(suite, w.outcome)
	final.UpdateSeq = w.summary.UpdateSeq
	w.summary = final
	w.stopTimer()
	return final.WriteDir(w.outputDir)
}

// Summary returns a copy of the current report.
func (w *IndexWriter) Summary() Summary {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := *w.summary
	s.Scenarios = append([]ScenarioEntry(nil), w.summary.Scenarios...)
	return s
}

func (w *IndexWriter) grow(total int) {
	for len(w.summary.Scenarios) < total {
		w.summary.Scenarios = append(w.summary.Scenarios, ScenarioEntry{
			Index:   len(w.summary.Scenarios),
			Verdict: StatusPending,
		})
	}
}

// slotFor finds the running entry of result. Results are not indexed, so
// the first running entry with the same titles is taken.
func (w *IndexWriter) slotFor(result *core.ScenarioResult) int {
	for i, e := range w.summary.Scenarios {
		if e.Verdict == StatusRunning && e.Feature == result.FeatureTitle && e.Title == result.Title {
			return i
		}
	}
	for i, e := range w.summary.Scenarios {
		if e.Verdict == StatusPending {
			return i
		}
	}
	w.grow(len(w.summary.Scenarios) + 1)
	return len(w.summary.Scenarios) - 1
}

func (w *IndexWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dirty {
		w.flushLocked()
	}
}

// flushLocked writes report.json while holding the lock.
func (w *IndexWriter) flushLocked() {
	w.stopTimer()
	w.dirty = false

	w.summary.UpdateSeq++
	w.summary.LastUpdated = time.Now()
	w.summary.Recount()
	if w.summary.EndTime == nil {
		w.summary.Verdict = StatusRunning
	}

	if err := atomicWriteJSON(w.path, w.summary); err != nil {
		logger.Warn("report index not written: %v", err)
	}
}

func (w *IndexWriter) stopTimer() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
