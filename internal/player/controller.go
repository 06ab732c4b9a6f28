package player

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/ysmood/gson"

	"github.com/Simon111302/movies/internal/classify"
	"github.com/Simon111302/movies/internal/guard"
	"github.com/Simon111302/movies/internal/metrics"
	"github.com/Simon111302/movies/internal/sanitize"
	"github.com/Simon111302/movies/internal/types"
)

// Page is the browser page surface the controller drives. *rodPage adapts a
// live page; tests supply fakes.
type Page interface {
	Eval(js string) (gson.JSON, error)
	Expose(name string, fn func(gson.JSON)) (func(), error)
	Navigate(ctx context.Context, url string) error
	BlockRequests(c *classify.Classifier) (RequestBlocker, error)
	WatchPopups(ctx context.Context) PopupPurger
	Close() error
}

// RequestBlocker is the protocol-level interception handle.
// *guard.Interceptor satisfies it.
type RequestBlocker interface {
	Blocked() int64
	Detach() error
}

// PopupPurger tracks and closes escaped popup windows. *guard.PopupWatcher
// satisfies it.
type PopupPurger interface {
	Purge() int
	Purged() int64
	Stop()
}

// Environment produces fresh pages. The browser pool adapter implements it.
type Environment interface {
	OpenPage(ctx context.Context) (Page, error)
}

// Config tunes the controller.
type Config struct {
	// HostURL is the locally served page that frames the provider embed.
	HostURL string
	// ShellSelector scopes fullscreen and, by default, sweeps to the player
	// shell element.
	ShellSelector string
	// SweepScope overrides the sweep root. Empty keeps ShellSelector;
	// "document" sweeps the whole page.
	SweepScope string
	// SweepInterval is the periodic sweep cadence.
	SweepInterval time.Duration
}

// Controller runs at most one guarded playback session. Opening a second
// movie replaces the first; there is never more than one live session.
type Controller struct {
	env        Environment
	registry   *Registry
	classifier *classify.Classifier
	rules      sanitize.RuleSource
	cfg        Config

	mu  sync.Mutex
	cur *session
}

type session struct {
	page     Page
	guards   *guard.Session
	engine   *sanitize.Engine
	blocker  RequestBlocker
	popups   PopupPurger
	unbind   func()
	cancel   context.CancelFunc
	movieID  int64
	title    string
	provider string
	frameURL string
}

// NewController wires the controller. HostURL and ShellSelector must be set
// by the caller; provider resolution falls back to the registry default.
func NewController(env Environment, registry *Registry, classifier *classify.Classifier, rules sanitize.RuleSource, cfg Config) *Controller {
	if cfg.ShellSelector == "" {
		cfg.ShellSelector = "#player-shell"
	}
	return &Controller{
		env:        env,
		registry:   registry,
		classifier: classifier,
		rules:      rules,
		cfg:        cfg,
	}
}

// Open starts playback of a movie behind the full guard stack. Calling Open
// for the movie and provider already playing is a no-op returning the live
// status; any other Open tears the current session down first, so at most
// one session ever exists. A concurrent Open in progress surfaces as
// types.ErrPlayerBusy.
func (c *Controller) Open(ctx context.Context, movieID int64, provider, title string) (types.PlayerStatus, error) {
	target, err := c.registry.Get(provider)
	if err != nil {
		return types.PlayerStatus{}, err
	}

	if !c.mu.TryLock() {
		return types.PlayerStatus{}, types.ErrPlayerBusy
	}
	defer c.mu.Unlock()

	if c.cur != nil {
		if c.cur.movieID == movieID && c.cur.provider == target.Name {
			return c.statusLocked(), nil
		}
		c.closeLocked()
	}

	sess, err := c.openLocked(ctx, target, movieID, title)
	if err != nil {
		return types.PlayerStatus{}, err
	}
	c.cur = sess
	metrics.SetPlayerSessionActive(true)
	log.Info().
		Int64("movie_id", movieID).
		Str("provider", target.Name).
		Str("frame_url", sess.frameURL).
		Msg("playback session opened")
	return c.statusLocked(), nil
}

// SwitchProvider swaps the embed to another provider without rebuilding the
// session. Tracked popups are purged before the swap and a sweep runs right
// after, while the new embed's first scripts are the likeliest to act up.
func (c *Controller) SwitchProvider(ctx context.Context, provider string) (types.PlayerStatus, error) {
	target, err := c.registry.Get(provider)
	if err != nil {
		return types.PlayerStatus{}, err
	}

	if !c.mu.TryLock() {
		return types.PlayerStatus{}, types.ErrPlayerBusy
	}
	defer c.mu.Unlock()

	if c.cur == nil {
		return types.PlayerStatus{}, types.ErrPlayerClosed
	}
	if c.cur.provider == target.Name {
		return c.statusLocked(), nil
	}

	c.cur.popups.Purge()
	frameURL := target.EmbedURL(c.cur.movieID)
	if _, err := c.cur.page.Eval(setFrameScript(frameURL)); err != nil {
		return types.PlayerStatus{}, types.NewGuardInstallError("frame-swap", err)
	}
	c.cur.provider = target.Name
	c.cur.frameURL = frameURL

	if _, err := c.cur.engine.SweepOnce(ctx); err != nil && !errors.Is(err, types.ErrSweepInFlight) {
		log.Warn().Err(err).Msg("post-switch sweep failed")
	}
	log.Info().Str("provider", target.Name).Msg("provider switched")
	return c.statusLocked(), nil
}

// Close tears the session down: sweep watch stopped, patches restored,
// popups purged, interception detached, page closed. Closing an already
// closed player returns types.ErrPlayerClosed.
func (c *Controller) Close(ctx context.Context) error {
	if !c.mu.TryLock() {
		return types.ErrPlayerBusy
	}
	defer c.mu.Unlock()

	if c.cur == nil {
		return types.ErrPlayerClosed
	}
	c.closeLocked()
	log.Info().Msg("playback session closed")
	return nil
}

// Status reports the live session state and counters. A closed player yields
// the zero status with Open false. While an open, switch, or close is in
// flight the outcome is not knowable, so the status reports Transitioning
// instead of guessing at Open.
func (c *Controller) Status() types.PlayerStatus {
	if !c.mu.TryLock() {
		return types.PlayerStatus{Transitioning: true}
	}
	defer c.mu.Unlock()
	return c.statusLocked()
}

// Providers lists the configured provider names in preference order.
func (c *Controller) Providers() []string { return c.registry.Names() }

func (c *Controller) openLocked(ctx context.Context, target Target, movieID int64, title string) (*session, error) {
	page, err := c.env.OpenPage(ctx)
	if err != nil {
		return nil, err
	}

	sess := &session{
		page:     page,
		movieID:  movieID,
		title:    title,
		provider: target.Name,
		frameURL: target.EmbedURL(movieID),
	}
	fail := func(err error) (*session, error) {
		sess.teardown()
		return nil, err
	}

	blocker, err := page.BlockRequests(c.classifier)
	if err != nil {
		return fail(types.NewGuardInstallError("interceptor", err))
	}
	sess.blocker = blocker

	if err := page.Navigate(ctx, c.hostURL(movieID, target, title)); err != nil {
		return fail(fmt.Errorf("navigate host page: %w", err))
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	sess.cancel = cancel
	sess.popups = page.WatchPopups(watchCtx)

	// The purge-trigger patch calls back into Go through this binding when
	// the shell is first clicked or the page changes fullscreen state.
	unbind, err := page.Expose(guard.PurgeBindingName, func(v gson.JSON) {
		if closed := sess.popups.Purge(); closed > 0 {
			log.Info().Int("closed", closed).Str("trigger", v.Str()).Msg("popup purge triggered in page")
		}
	})
	if err != nil {
		return fail(types.NewGuardInstallError("purge binding", err))
	}
	sess.unbind = unbind

	sess.guards = guard.NewSession(page)
	if err := sess.guards.Activate(
		guard.NetworkPatch(c.classifier),
		guard.PopupPatch(),
		guard.PurgeTriggerPatch(c.cfg.ShellSelector),
		guard.FullscreenPatch(c.cfg.ShellSelector),
		guard.ScrollLockPatch(),
	); err != nil {
		return fail(err)
	}

	sess.engine = sanitize.NewEngine(page, c.rules, sanitize.Config{
		Scope:    c.sweepScope(),
		Interval: c.cfg.SweepInterval,
	})
	if err := sess.engine.StartWatch(watchCtx); err != nil {
		return fail(err)
	}
	if _, err := sess.engine.SweepOnce(ctx); err != nil && !errors.Is(err, types.ErrSweepInFlight) {
		log.Warn().Err(err).Msg("initial sweep failed")
	}

	return sess, nil
}

func (c *Controller) closeLocked() {
	c.cur.teardown()
	c.cur = nil
	metrics.SetPlayerSessionActive(false)
}

func (s *session) teardown() {
	if s.engine != nil {
		s.engine.StopWatch()
	}
	if s.guards != nil && s.guards.Active() {
		// The veto counter lives in the page and dies with the patches.
		if vetoed := guard.VetoCount(s.page); vetoed > 0 {
			metrics.PopupsVetoed.Add(float64(vetoed))
		}
		if err := s.guards.Deactivate(); err != nil {
			log.Warn().Err(err).Msg("guard restore incomplete during teardown")
		}
	}
	if s.unbind != nil {
		s.unbind()
	}
	if s.popups != nil {
		s.popups.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.blocker != nil {
		if err := s.blocker.Detach(); err != nil {
			log.Debug().Err(err).Msg("interceptor detach failed")
		}
	}
	if err := s.page.Close(); err != nil {
		log.Debug().Err(err).Msg("page close failed")
	}
}

func (c *Controller) statusLocked() types.PlayerStatus {
	if c.cur == nil {
		return types.PlayerStatus{}
	}
	s := c.cur
	return types.PlayerStatus{
		Open:            true,
		MovieID:         s.movieID,
		Title:           s.title,
		Provider:        s.provider,
		FrameURL:        s.frameURL,
		OverlaysRemoved: s.engine.Removed(),
		RequestsBlocked: s.blocker.Blocked(),
		PopupsVetoed:    guard.VetoCount(s.page),
		PopupsPurged:    s.popups.Purged(),
		Sweeps:          s.engine.Sweeps(),
	}
}

func (c *Controller) sweepScope() string {
	switch c.cfg.SweepScope {
	case "":
		return c.cfg.ShellSelector
	case "document":
		return ""
	default:
		return c.cfg.SweepScope
	}
}

func (c *Controller) hostURL(movieID int64, target Target, title string) string {
	q := url.Values{}
	q.Set("movie", fmt.Sprintf("%d", movieID))
	q.Set("provider", target.Name)
	if title != "" {
		q.Set("title", title)
	}
	return c.cfg.HostURL + "?" + q.Encode()
}

func setFrameScript(frameURL string) string {
	return fmt.Sprintf(`() => {
	const frame = document.querySelector('#player-frame');
	if (!frame) return false;
	frame.src = %q;
	return true;
}`, frameURL)
}
