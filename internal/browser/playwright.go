package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog"
)

// PlaywrightDriver owns the playwright driver process. It is started lazily
// on the first launch so that commands which never touch a page stay cheap.
type PlaywrightDriver struct {
	mu     sync.Mutex
	pw     *playwright.Playwright
	logger zerolog.Logger
}

func NewPlaywrightDriver(logger zerolog.Logger) *PlaywrightDriver {
	return &PlaywrightDriver{logger: logger}
}

func (d *PlaywrightDriver) Launch(ctx context.Context, p Profile) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pw, err := d.ensure()
	if err != nil {
		return nil, err
	}

	var b playwright.Browser
	if p.WSEndpoint != "" {
		d.logger.Debug().Str("profile", p.Name).Msg("connecting to remote browser")
		b, err = pw.Chromium.Connect(p.WSEndpoint)
		if err != nil {
			return nil, fmt.Errorf("connect chromium: %w", wrap(err))
		}
		return &pwHandle{browser: b}, nil
	}

	opts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(p.Headless),
		Args:     p.Args,
	}
	if p.SlowMo > 0 {
		opts.SlowMo = playwright.Float(float64(p.SlowMo.Milliseconds()))
	}
	d.logger.Debug().Str("profile", p.Name).Bool("headless", p.Headless).Msg("launching chromium")
	b, err = pw.Chromium.Launch(opts)
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", wrap(err))
	}
	return &pwHandle{browser: b}, nil
}

func (d *PlaywrightDriver) ensure() (*playwright.Playwright, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pw != nil {
		return d.pw, nil
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	d.pw = pw
	return pw, nil
}

func (d *PlaywrightDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pw == nil {
		return nil
	}
	err := d.pw.Stop()
	d.pw = nil
	return err
}

type pwHandle struct {
	browser playwright.Browser
}

func (h *pwHandle) NewPage(ctx context.Context, opts PageOptions) (Controller, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bctx, err := h.browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent:         playwright.String(opts.UserAgent),
		Locale:            playwright.String("en-US"),
		IgnoreHttpsErrors: playwright.Bool(true),
		Viewport:          &playwright.Size{Width: 1280, Height: 800},
	})
	if err != nil {
		return nil, fmt.Errorf("new context: %w", wrap(err))
	}
	ctrl, err := newController(bctx, opts)
	if err != nil {
		_ = bctx.Close()
		return nil, err
	}
	return ctrl, nil
}

func (h *pwHandle) OnDisconnected(fn func()) {
	h.browser.OnDisconnected(func(playwright.Browser) { fn() })
}

func (h *pwHandle) Connected() bool {
	return h.browser.IsConnected()
}

func (h *pwHandle) Close() error {
	return wrap(h.browser.Close())
}
