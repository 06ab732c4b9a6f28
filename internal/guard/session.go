// Package guard hardens the page hosting a third-party player embed. It
// patches the JS surfaces the embed abuses (window.open, fetch/XHR, script
// injection, fullscreen), intercepts requests at the protocol level, and
// tracks popup windows that slip through so they can be purged.
package guard

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/ysmood/gson"

	"github.com/Simon111302/movies/internal/types"
)

// Evaluator runs a JS function expression in the guarded page. *rod.Page is
// adapted to it by the player package; tests use fakes.
type Evaluator interface {
	Eval(js string) (gson.JSON, error)
}

// Patch is one installable page modification. Install must be idempotent in
// the page (re-running it cannot stack) and Restore must put the original
// behaviour back.
type Patch interface {
	Name() string
	Install(ev Evaluator) error
	Restore(ev Evaluator) error
}

// Session owns the set of patches installed on one page and guarantees they
// are restored exactly once, in reverse install order.
type Session struct {
	ev Evaluator

	mu        sync.Mutex
	active    bool
	installed []Patch
}

// NewSession wraps an evaluator. Nothing is installed until Activate.
func NewSession(ev Evaluator) *Session {
	return &Session{ev: ev}
}

// Activate installs the given patches in order. If any install fails, the
// ones already installed are rolled back and the session stays inactive.
// Activating an active session returns types.ErrGuardActive without touching
// the page.
func (s *Session) Activate(patches ...Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return types.ErrGuardActive
	}

	for i, p := range patches {
		if err := p.Install(s.ev); err != nil {
			s.restoreLocked(patches[:i])
			return types.NewGuardInstallError(p.Name(), err)
		}
		log.Debug().Str("patch", p.Name()).Msg("guard patch installed")
	}

	s.installed = patches
	s.active = true
	return nil
}

// Deactivate restores every installed patch in reverse order. Restore errors
// do not stop the walk; they are joined and returned after everything has
// been attempted. Deactivating an inactive session returns
// types.ErrGuardNotActive.
func (s *Session) Deactivate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return types.ErrGuardNotActive
	}

	err := s.restoreLocked(s.installed)
	s.installed = nil
	s.active = false
	return err
}

// Active reports whether patches are currently installed.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Session) restoreLocked(patches []Patch) error {
	var errs []error
	for i := len(patches) - 1; i >= 0; i-- {
		p := patches[i]
		if err := p.Restore(s.ev); err != nil {
			log.Warn().Err(err).Str("patch", p.Name()).Msg("guard patch restore failed")
			errs = append(errs, err)
			continue
		}
		log.Debug().Str("patch", p.Name()).Msg("guard patch restored")
	}
	return errors.Join(errs...)
}

// scriptPatch is a Patch backed by a pair of JS function expressions. The
// install script carries its own in-page marker so double evaluation is
// harmless.
type scriptPatch struct {
	name    string
	install string
	restore string
}

func (p scriptPatch) Name() string { return p.name }

func (p scriptPatch) Install(ev Evaluator) error {
	_, err := ev.Eval(p.install)
	return err
}

func (p scriptPatch) Restore(ev Evaluator) error {
	_, err := ev.Eval(p.restore)
	return err
}
