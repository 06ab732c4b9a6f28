package sanitize

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/ysmood/gson"

	"github.com/Simon111302/movies/internal/heuristics"
	"github.com/Simon111302/movies/internal/metrics"
	"github.com/Simon111302/movies/internal/types"
)

const mutationBinding = "__sweepNotify"

// PageRuntime is the slice of browser page behaviour the engine needs.
// *player.PageRuntime satisfies it against a live page; tests supply fakes.
type PageRuntime interface {
	// Eval runs a JS function expression in the page and returns its result.
	Eval(js string) (gson.JSON, error)
	// Expose registers a window-level binding the page can call. The returned
	// stop function removes it.
	Expose(name string, fn func(gson.JSON)) (func(), error)
}

// RuleSource yields the current heuristic rule set. *heuristics.Manager
// satisfies it, so hot reloads take effect on the next sweep without any
// coordination here.
type RuleSource interface {
	Rules() *heuristics.Heuristics
}

// Config controls sweep scoping and cadence.
type Config struct {
	// Scope is a CSS selector naming the sweep root. Empty sweeps the whole
	// document body.
	Scope string
	// Interval is the periodic sweep cadence while watching.
	Interval time.Duration
}

// Engine runs heuristic sweeps against one page. It is safe for concurrent
// use; overlapping sweep triggers collapse into a single pass.
type Engine struct {
	page  PageRuntime
	rules RuleSource
	cfg   Config

	sweepSeq atomic.Int64
	inFlight atomic.Bool
	removed  atomic.Int64
	sweeps   atomic.Int64

	mu          sync.Mutex
	watching    bool
	cancelWatch context.CancelFunc
	stopBinding func()
	done        chan struct{}
	kick        chan struct{}
}

// NewEngine builds an engine over a page. No page work happens until the
// first sweep.
func NewEngine(page PageRuntime, rules RuleSource, cfg Config) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	return &Engine{page: page, rules: rules, cfg: cfg, kick: make(chan struct{}, 1)}
}

// SweepOnce runs a single collect/classify/remove pass and reports how many
// elements were removed. If another sweep is already in flight it returns
// types.ErrSweepInFlight and does no page work.
//
// Page evaluation failures abort the current pass only; the page is left as
// it was and the next trigger retries from scratch.
func (e *Engine) SweepOnce(ctx context.Context) (int, error) {
	if !e.inFlight.CompareAndSwap(false, true) {
		return 0, types.ErrSweepInFlight
	}
	defer e.inFlight.Store(false)

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	rules := e.rules.Rules()
	seq := e.sweepSeq.Add(1)

	res, err := e.page.Eval(collectScript(e.cfg.Scope, seq, rules.ZIndexThreshold))
	if err != nil {
		return 0, types.NewGuardInstallError("sweep-collect", err)
	}

	var doomed []string
	for _, item := range res.Arr() {
		snap := decodeSnapshot(item)
		verdict := Classify(snap, rules)
		if verdict.Remove {
			doomed = append(doomed, snap.SweepID)
			log.Debug().
				Str("reason", verdict.Reason).
				Str("position", snap.Position).
				Int("z_index", snap.ZIndex).
				Msg("overlay flagged for removal")
		}
	}

	// The removal pass also untags survivors, so it runs even with an empty
	// kill list.
	res, err = e.page.Eval(removeScript(doomed))
	if err != nil {
		return 0, types.NewGuardInstallError("sweep-remove", err)
	}
	removed := res.Int()

	e.sweeps.Add(1)
	e.removed.Add(int64(removed))
	metrics.ObserveSweep(removed)
	if removed > 0 {
		log.Info().Int("removed", removed).Int64("sweep", seq).Msg("overlay sweep")
	}
	return removed, nil
}

// StartWatch installs a mutation observer in the page and begins periodic
// sweeps. Mutation bursts and the ticker feed the same single sweep path.
// Calling StartWatch while already watching returns types.ErrWatchAlreadyOn.
func (e *Engine) StartWatch(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.watching {
		return types.ErrWatchAlreadyOn
	}

	stop, err := e.page.Expose(mutationBinding, func(gson.JSON) {
		select {
		case e.kick <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return types.NewGuardInstallError("mutation-binding", err)
	}

	if _, err := e.page.Eval(observerScript(e.cfg.Scope, mutationBinding)); err != nil {
		stop()
		return types.NewGuardInstallError("mutation-observer", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	e.watching = true
	e.cancelWatch = cancel
	e.stopBinding = stop
	e.done = make(chan struct{})

	go e.watchLoop(watchCtx, e.done)
	log.Debug().Str("scope", e.cfg.Scope).Dur("interval", e.cfg.Interval).Msg("sweep watch started")
	return nil
}

// StopWatch disconnects the observer and stops periodic sweeps. It blocks
// until the watch goroutine has exited and is a no-op when not watching.
func (e *Engine) StopWatch() {
	e.mu.Lock()
	if !e.watching {
		e.mu.Unlock()
		return
	}
	cancel, stop, done := e.cancelWatch, e.stopBinding, e.done
	e.watching = false
	e.cancelWatch = nil
	e.stopBinding = nil
	e.done = nil
	e.mu.Unlock()

	cancel()
	<-done
	stop()
	if _, err := e.page.Eval(disconnectObserverScript); err != nil {
		log.Debug().Err(err).Msg("observer disconnect failed; page likely gone")
	}
}

// Removed reports the total elements removed across all sweeps.
func (e *Engine) Removed() int64 { return e.removed.Load() }

// Sweeps reports the number of completed sweep passes.
func (e *Engine) Sweeps() int64 { return e.sweeps.Load() }

func (e *Engine) watchLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-e.kick:
		}
		if _, err := e.SweepOnce(ctx); err != nil && err != types.ErrSweepInFlight && ctx.Err() == nil {
			log.Warn().Err(err).Msg("sweep pass failed")
		}
	}
}

func decodeSnapshot(item gson.JSON) ElementSnapshot {
	return ElementSnapshot{
		SweepID:    item.Get("sweepId").Str(),
		Text:       item.Get("text").Str(),
		Position:   item.Get("position").Str(),
		ZIndex:     item.Get("zIndex").Int(),
		Display:    item.Get("display").Str(),
		Visibility: item.Get("visibility").Str(),
		ClassID:    item.Get("classId").Str(),
		Detached:   item.Get("detached").Bool(),
	}
}
