package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/unsubscribe-agent/internal/config"
)

// State is the lifecycle state of the shared browser.
type State int

const (
	StateIdle State = iota
	StateLive
	StateInvalidated
	StateReinitializing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLive:
		return "live"
	case StateInvalidated:
		return "invalidated"
	case StateReinitializing:
		return "reinitializing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Profile is one launch configuration for the shared browser.
type Profile struct {
	Name       string
	Headless   bool
	SlowMo     time.Duration
	Args       []string
	WSEndpoint string
}

// Handle is a live browser process (local or remote).
type Handle interface {
	NewPage(ctx context.Context, opts PageOptions) (Controller, error)
	OnDisconnected(fn func())
	Connected() bool
	Close() error
}

// Driver launches browsers. The playwright implementation lives in
// playwright.go; tests use browsertest.Driver.
type Driver interface {
	Launch(ctx context.Context, p Profile) (Handle, error)
	Close() error
}

// LaunchError is returned when both the preferred and fallback profiles failed.
type LaunchError struct {
	Preferred error
	Fallback  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch browser: preferred: %v; fallback: %v", e.Preferred, e.Fallback)
}

func (e *LaunchError) Unwrap() []error { return []error{e.Preferred, e.Fallback} }

var leanArgs = []string{
	"--no-sandbox",
	"--disable-setuid-sandbox",
	"--disable-dev-shm-usage",
	"--disable-gpu",
	"--disable-extensions",
	"--disable-background-networking",
	"--disable-default-apps",
	"--disable-sync",
	"--mute-audio",
	"--no-first-run",
	"--no-zygote",
	"--js-flags=--max-old-space-size=256",
}

// Profiles returns the preferred and fallback launch profiles for cfg.
func Profiles(cfg config.Config) (preferred, fallback Profile) {
	fallback = Profile{
		Name:     "fallback-minimal",
		Headless: true,
		Args:     []string{"--no-sandbox", "--disable-dev-shm-usage"},
	}
	if cfg.Production() {
		if cfg.BrowserWSEndpoint != "" {
			return Profile{Name: "production-remote", WSEndpoint: cfg.BrowserWSEndpoint}, fallback
		}
		return Profile{Name: "production-lean", Headless: true, Args: leanArgs}, fallback
	}
	return Profile{
		Name:     "development",
		Headless: cfg.Headless,
		SlowMo:   cfg.SlowMo,
		Args:     []string{"--no-sandbox", "--disable-dev-shm-usage"},
	}, fallback
}

// Manager owns the single shared browser. Pages are leased per task; the
// manager lock is only held while (re)launching, never across tasks.
type Manager struct {
	driver    Driver
	preferred Profile
	fallback  Profile
	pageOpts  PageOptions
	logger    zerolog.Logger

	mu         sync.Mutex
	state      State
	handle     Handle
	generation uint64
	leases     int
}

func NewManager(driver Driver, preferred, fallback Profile, pageOpts PageOptions, logger zerolog.Logger) *Manager {
	return &Manager{
		driver:    driver,
		preferred: preferred,
		fallback:  fallback,
		pageOpts:  pageOpts,
		logger:    logger,
	}
}

// Acquire returns the live browser, launching one if needed. A launch tries
// the preferred profile, then exactly one fallback profile.
func (m *Manager) Acquire(ctx context.Context) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateLive && m.handle != nil {
		if m.handle.Connected() {
			return m.handle, nil
		}
		m.logger.Warn().Uint64("generation", m.generation).Msg("browser disconnected without event, invalidating")
		m.state = StateInvalidated
		m.handle = nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prev := m.state
	m.state = StateReinitializing
	handle, profile, err := m.launch(ctx)
	if err != nil {
		m.state = prev
		return nil, err
	}

	m.generation++
	gen := m.generation
	handle.OnDisconnected(func() { m.invalidate(gen) })
	m.handle = handle
	m.state = StateLive
	m.logger.Info().Str("profile", profile).Uint64("generation", gen).Msg("browser ready")
	return handle, nil
}

func (m *Manager) launch(ctx context.Context) (Handle, string, error) {
	handle, err := m.driver.Launch(ctx, m.preferred)
	if err == nil {
		return handle, m.preferred.Name, nil
	}
	m.logger.Warn().Err(err).Str("profile", m.preferred.Name).Msg("preferred launch failed, trying fallback")
	handle, fbErr := m.driver.Launch(ctx, m.fallback)
	if fbErr == nil {
		return handle, m.fallback.Name, nil
	}
	m.logger.Error().Err(fbErr).Str("profile", m.fallback.Name).Msg("fallback launch failed")
	return nil, "", &LaunchError{Preferred: err, Fallback: fbErr}
}

// invalidate clears the singleton after a crash. Stale callbacks from an
// older generation are ignored.
func (m *Manager) invalidate(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation || m.state != StateLive {
		return
	}
	m.logger.Warn().Uint64("generation", gen).Int("leases", m.leases).Msg("browser disconnected")
	m.state = StateInvalidated
	m.handle = nil
}

// OpenPage leases a new page from the shared browser.
func (m *Manager) OpenPage(ctx context.Context) (Controller, error) {
	handle, err := m.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	page, err := handle.NewPage(ctx, m.pageOpts)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	m.mu.Lock()
	m.leases++
	m.mu.Unlock()
	return &leasedPage{Controller: page, release: m.release}, nil
}

func (m *Manager) release() {
	m.mu.Lock()
	m.leases--
	m.mu.Unlock()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Leases reports how many pages are currently open.
func (m *Manager) Leases() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leases
}

// Shutdown closes the browser and the driver.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	handle := m.handle
	m.handle = nil
	m.state = StateIdle
	m.mu.Unlock()

	if handle != nil {
		_ = handle.Close()
	}
	return m.driver.Close()
}

type leasedPage struct {
	Controller
	once    sync.Once
	release func()
}

func (p *leasedPage) Close(ctx context.Context) error {
	var err error
	p.once.Do(func() {
		err = p.Controller.Close(ctx)
		p.release()
	})
	return err
}
