package browser_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/polzovatel/unsubscribe-agent/internal/browser"
	"github.com/polzovatel/unsubscribe-agent/internal/browser/browsertest"
	"github.com/polzovatel/unsubscribe-agent/internal/config"
)

var (
	preferred = browser.Profile{Name: "preferred"}
	fallback  = browser.Profile{Name: "fallback"}
)

func newManager(d *browsertest.Driver) *browser.Manager {
	return browser.NewManager(d, preferred, fallback, browser.DefaultPageOptions(), zerolog.Nop())
}

func TestManager_AcquireIsIdempotent(t *testing.T) {
	d := &browsertest.Driver{}
	m := newManager(d)
	ctx := context.Background()

	first, err := m.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	second, err := m.Acquire(ctx)
	if err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}
	if first != second {
		t.Error("expected the same handle on repeated acquire")
	}
	if got := d.Launches(); len(got) != 1 {
		t.Errorf("expected one launch, got %v", got)
	}
	if m.State() != browser.StateLive {
		t.Errorf("expected live state, got %s", m.State())
	}
}

func TestManager_FallbackAttemptedExactlyOnce(t *testing.T) {
	d := &browsertest.Driver{Fail: map[string]error{"preferred": errors.New("no binary")}}
	m := newManager(d)

	if _, err := m.Acquire(context.Background()); err != nil {
		t.Fatalf("expected fallback launch to succeed: %v", err)
	}
	got := d.Launches()
	if len(got) != 2 || got[0] != "preferred" || got[1] != "fallback" {
		t.Errorf("unexpected launch sequence %v", got)
	}
}

func TestManager_LaunchErrorAfterFallback(t *testing.T) {
	d := &browsertest.Driver{Fail: map[string]error{
		"preferred": errors.New("no binary"),
		"fallback":  errors.New("still no binary"),
	}}
	m := newManager(d)

	_, err := m.Acquire(context.Background())
	var launchErr *browser.LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("expected LaunchError, got %v", err)
	}
	if len(d.Launches()) != 2 {
		t.Errorf("expected exactly two launch attempts, got %v", d.Launches())
	}
	if m.State() != browser.StateIdle {
		t.Errorf("expected idle state after failed launch, got %s", m.State())
	}
}

func TestManager_CrashInvalidatesAndRelaunches(t *testing.T) {
	d := &browsertest.Driver{}
	m := newManager(d)
	ctx := context.Background()

	if _, err := m.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	d.Handle(0).Crash()
	if m.State() != browser.StateInvalidated {
		t.Fatalf("expected invalidated after crash, got %s", m.State())
	}

	h, err := m.Acquire(ctx)
	if err != nil {
		t.Fatalf("relaunch failed: %v", err)
	}
	if h != d.Handle(1) {
		t.Error("expected a fresh handle after crash")
	}

	// A late callback from the first browser must not kill the second.
	d.Handle(0).Crash()
	if m.State() != browser.StateLive {
		t.Errorf("stale disconnect invalidated new browser: %s", m.State())
	}
}

func TestManager_PageLeasesReleasedOnce(t *testing.T) {
	d := &browsertest.Driver{}
	m := newManager(d)
	ctx := context.Background()

	page, err := m.OpenPage(ctx)
	if err != nil {
		t.Fatalf("OpenPage failed: %v", err)
	}
	if m.Leases() != 1 {
		t.Fatalf("expected 1 lease, got %d", m.Leases())
	}
	_ = page.Close(ctx)
	_ = page.Close(ctx)
	if m.Leases() != 0 {
		t.Errorf("expected 0 leases after close, got %d", m.Leases())
	}
}

func TestProfiles(t *testing.T) {
	pref, fb := browser.Profiles(config.Config{AppEnv: config.EnvProduction, BrowserWSEndpoint: "ws://remote:3000"})
	if pref.WSEndpoint != "ws://remote:3000" {
		t.Errorf("production with endpoint should connect remotely, got %+v", pref)
	}
	if !fb.Headless || fb.WSEndpoint != "" {
		t.Errorf("fallback must be a local headless launch, got %+v", fb)
	}

	pref, _ = browser.Profiles(config.Config{AppEnv: config.EnvDevelopment, Headless: false})
	if pref.Headless {
		t.Error("development profile should be visible")
	}
}
