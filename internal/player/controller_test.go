package player

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ysmood/gson"

	"github.com/Simon111302/movies/internal/classify"
	"github.com/Simon111302/movies/internal/guard"
	"github.com/Simon111302/movies/internal/heuristics"
	"github.com/Simon111302/movies/internal/types"
)

type fakeBlocker struct {
	blocked  int64
	detached bool
}

func (f *fakeBlocker) Blocked() int64 { return f.blocked }
func (f *fakeBlocker) Detach() error  { f.detached = true; return nil }

type fakePurger struct {
	purges  int
	stopped bool
}

func (f *fakePurger) Purge() int    { f.purges++; return 0 }
func (f *fakePurger) Purged() int64 { return int64(f.purges) }
func (f *fakePurger) Stop()         { f.stopped = true }

type fakePage struct {
	mu          sync.Mutex
	navigated   []string
	evals       []string
	frameURL    string
	closed      bool
	navErr      error
	blocker     *fakeBlocker
	purger      *fakePurger
	guardMarked map[string]bool
	bindings    map[string]func(gson.JSON)
	unbound     []string
}

func newFakePage() *fakePage {
	return &fakePage{
		blocker:     &fakeBlocker{},
		purger:      &fakePurger{},
		guardMarked: make(map[string]bool),
		bindings:    make(map[string]func(gson.JSON)),
	}
}

func (f *fakePage) Eval(js string) (gson.JSON, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evals = append(f.evals, js)

	switch {
	case strings.Contains(js, "const zMin"):
		return gson.New([]interface{}{}), nil
	case strings.Contains(js, "new Set("):
		return gson.New(0), nil
	case strings.Contains(js, "__popupGuardVetoed || 0"):
		return gson.New(2), nil
	case strings.Contains(js, "frame.src ="):
		start := strings.Index(js, `frame.src = "`) + len(`frame.src = "`)
		end := strings.Index(js[start:], `"`) + start
		f.frameURL = js[start:end]
		return gson.New(true), nil
	default:
		// Guard installs and restores flip marker state so teardown order
		// is observable.
		for _, marker := range []string{"__netGuard", "__popupGuard", "__purgeTrigger", "__fsGuard", "__scrollLock"} {
			if strings.Contains(js, "if (window."+marker+") return true;") {
				f.guardMarked[marker] = true
			}
			if strings.Contains(js, "delete window."+marker) {
				f.guardMarked[marker] = false
			}
		}
		return gson.New(true), nil
	}
}

func (f *fakePage) Expose(name string, fn func(gson.JSON)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bindings[name] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.bindings, name)
		f.unbound = append(f.unbound, name)
	}, nil
}

func (f *fakePage) binding(name string) func(gson.JSON) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bindings[name]
}

func (f *fakePage) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.navErr != nil {
		return f.navErr
	}
	f.navigated = append(f.navigated, url)
	return nil
}

func (f *fakePage) BlockRequests(*classify.Classifier) (RequestBlocker, error) {
	return f.blocker, nil
}

func (f *fakePage) WatchPopups(context.Context) PopupPurger { return f.purger }

func (f *fakePage) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeEnv struct {
	mu    sync.Mutex
	pages []*fakePage
	next  *fakePage
}

func (e *fakeEnv) OpenPage(context.Context) (Page, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	page := e.next
	if page == nil {
		page = newFakePage()
	}
	e.next = nil
	e.pages = append(e.pages, page)
	return page, nil
}

type fixedRules struct{}

func (fixedRules) Rules() *heuristics.Heuristics {
	return &heuristics.Heuristics{
		TextSignals:     []string{"ad block"},
		Positions:       []string{"fixed"},
		ZIndexThreshold: 1000,
		ZIndexStrong:    9000,
	}
}

func newTestController(env *fakeEnv) *Controller {
	return NewController(env, DefaultRegistry(), classify.New(nil, nil), fixedRules{}, Config{
		HostURL:       "http://127.0.0.1:8191/player/host",
		SweepInterval: time.Hour,
	})
}

func TestOpenBuildsGuardedSession(t *testing.T) {
	env := &fakeEnv{}
	c := newTestController(env)

	status, err := c.Open(context.Background(), 5, "", "Interstellar")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !status.Open || status.MovieID != 5 || status.Provider != "vidnest" {
		t.Errorf("status = %+v", status)
	}
	if status.FrameURL != "https://vidnest.fun/movie/5" {
		t.Errorf("FrameURL = %q", status.FrameURL)
	}
	if status.PopupsVetoed != 2 {
		t.Errorf("PopupsVetoed = %d, want 2 from page counter", status.PopupsVetoed)
	}

	page := env.pages[0]
	if len(page.navigated) != 1 || !strings.Contains(page.navigated[0], "movie=5") {
		t.Errorf("navigated = %v", page.navigated)
	}
	if !strings.Contains(page.navigated[0], "provider=vidnest") {
		t.Errorf("host URL missing provider: %v", page.navigated)
	}
	for _, marker := range []string{"__netGuard", "__popupGuard", "__purgeTrigger", "__fsGuard", "__scrollLock"} {
		if !page.guardMarked[marker] {
			t.Errorf("guard %s never installed", marker)
		}
	}
	if page.binding(guard.PurgeBindingName) == nil {
		t.Error("purge binding not exposed to the page")
	}
}

func TestOpenSameMovieIsNoOp(t *testing.T) {
	env := &fakeEnv{}
	c := newTestController(env)
	ctx := context.Background()

	if _, err := c.Open(ctx, 5, "vidnest", ""); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := c.Open(ctx, 5, "vidnest", ""); err != nil {
		t.Fatalf("re-Open: %v", err)
	}
	if len(env.pages) != 1 {
		t.Errorf("pages opened = %d, want 1", len(env.pages))
	}
}

func TestOpenReplacesExistingSession(t *testing.T) {
	env := &fakeEnv{}
	c := newTestController(env)
	ctx := context.Background()

	if _, err := c.Open(ctx, 5, "", ""); err != nil {
		t.Fatalf("Open(5): %v", err)
	}
	status, err := c.Open(ctx, 7, "", "")
	if err != nil {
		t.Fatalf("Open(7): %v", err)
	}
	if status.MovieID != 7 {
		t.Errorf("MovieID = %d, want 7", status.MovieID)
	}
	if len(env.pages) != 2 {
		t.Fatalf("pages opened = %d, want 2", len(env.pages))
	}

	first := env.pages[0]
	if !first.closed {
		t.Error("first page not closed")
	}
	if !first.blocker.detached || !first.purger.stopped {
		t.Error("first session guards not torn down")
	}
	for marker, installed := range first.guardMarked {
		if installed {
			t.Errorf("guard %s still installed on replaced page", marker)
		}
	}
}

func TestSwitchProvider(t *testing.T) {
	env := &fakeEnv{}
	c := newTestController(env)
	ctx := context.Background()

	if _, err := c.Open(ctx, 5, "vidnest", ""); err != nil {
		t.Fatalf("Open: %v", err)
	}
	status, err := c.SwitchProvider(ctx, "cinemaos")
	if err != nil {
		t.Fatalf("SwitchProvider: %v", err)
	}
	if status.Provider != "cinemaos" {
		t.Errorf("Provider = %q", status.Provider)
	}
	if status.FrameURL != "https://cinemaos.tech/player/5" {
		t.Errorf("FrameURL = %q", status.FrameURL)
	}

	page := env.pages[0]
	if page.frameURL != "https://cinemaos.tech/player/5" {
		t.Errorf("frame src = %q", page.frameURL)
	}
	if page.purger.purges == 0 {
		t.Error("popups not purged before switch")
	}
	if page.closed {
		t.Error("switch must reuse the page")
	}
}

func TestSwitchProviderErrors(t *testing.T) {
	env := &fakeEnv{}
	c := newTestController(env)
	ctx := context.Background()

	if _, err := c.SwitchProvider(ctx, "cinemaos"); !errors.Is(err, types.ErrPlayerClosed) {
		t.Errorf("closed switch err = %v, want ErrPlayerClosed", err)
	}

	if _, err := c.Open(ctx, 5, "", ""); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := c.SwitchProvider(ctx, "nosuch"); !errors.Is(err, types.ErrUnknownProvider) {
		t.Errorf("unknown provider err = %v, want ErrUnknownProvider", err)
	}
}

func TestSwitchToSameProviderIsNoOp(t *testing.T) {
	env := &fakeEnv{}
	c := newTestController(env)
	ctx := context.Background()

	if _, err := c.Open(ctx, 5, "vidnest", ""); err != nil {
		t.Fatalf("Open: %v", err)
	}
	purgesBefore := env.pages[0].purger.purges
	if _, err := c.SwitchProvider(ctx, "vidnest"); err != nil {
		t.Fatalf("SwitchProvider: %v", err)
	}
	if env.pages[0].purger.purges != purgesBefore {
		t.Error("same-provider switch purged popups")
	}
}

func TestCloseTearsDownOnce(t *testing.T) {
	env := &fakeEnv{}
	c := newTestController(env)
	ctx := context.Background()

	if _, err := c.Open(ctx, 5, "", ""); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(ctx); !errors.Is(err, types.ErrPlayerClosed) {
		t.Errorf("second Close err = %v, want ErrPlayerClosed", err)
	}

	page := env.pages[0]
	if !page.closed || !page.blocker.detached || !page.purger.stopped {
		t.Error("teardown incomplete")
	}
	for marker, installed := range page.guardMarked {
		if installed {
			t.Errorf("guard %s not restored on close", marker)
		}
	}
	if got := c.Status(); got.Open {
		t.Errorf("Status after close = %+v", got)
	}
}

func TestPurgeBindingPurgesTrackedPopups(t *testing.T) {
	env := &fakeEnv{}
	c := newTestController(env)
	ctx := context.Background()

	if _, err := c.Open(ctx, 5, "", ""); err != nil {
		t.Fatalf("Open: %v", err)
	}
	page := env.pages[0]

	fire := page.binding(guard.PurgeBindingName)
	if fire == nil {
		t.Fatal("purge binding not exposed")
	}
	fire(gson.New("click"))
	if page.purger.purges != 1 {
		t.Errorf("purges = %d, want 1 after in-page trigger", page.purger.purges)
	}
	fire(gson.New("fullscreen"))
	if page.purger.purges != 2 {
		t.Errorf("purges = %d, want 2 after fullscreen trigger", page.purger.purges)
	}

	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if page.binding(guard.PurgeBindingName) != nil {
		t.Error("purge binding still exposed after close")
	}
	if len(page.unbound) != 1 || page.unbound[0] != guard.PurgeBindingName {
		t.Errorf("unbound = %v", page.unbound)
	}
}

func TestStatusDuringTransition(t *testing.T) {
	env := &fakeEnv{}
	c := newTestController(env)

	c.mu.Lock()
	status := c.Status()
	c.mu.Unlock()

	if !status.Transitioning {
		t.Error("contended Status did not report Transitioning")
	}
	if status.Open {
		t.Error("contended Status claimed the player is open")
	}
}

func TestOpenUnknownProvider(t *testing.T) {
	env := &fakeEnv{}
	c := newTestController(env)

	if _, err := c.Open(context.Background(), 5, "nosuch", ""); !errors.Is(err, types.ErrUnknownProvider) {
		t.Errorf("err = %v, want ErrUnknownProvider", err)
	}
	if len(env.pages) != 0 {
		t.Error("page opened despite unknown provider")
	}
}

func TestOpenNavigateFailureCleansUp(t *testing.T) {
	env := &fakeEnv{}
	page := newFakePage()
	page.navErr = errors.New("net::ERR_CONNECTION_REFUSED")
	env.next = page
	c := newTestController(env)

	if _, err := c.Open(context.Background(), 5, "", ""); err == nil {
		t.Fatal("Open succeeded despite navigation failure")
	}
	if !page.closed {
		t.Error("failed session left page open")
	}
	if !page.blocker.detached {
		t.Error("failed session left interceptor attached")
	}
	if c.Status().Open {
		t.Error("controller reports open after failed Open")
	}
}
