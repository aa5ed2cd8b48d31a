package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/polzovatel/unsubscribe-agent/internal/plan"
)

// ErrNoSelectors is returned by TryEach when there is nothing to try.
var ErrNoSelectors = errors.New("no selectors to try")

// TryEach runs fn against each selector in order and stops at the first
// success, returning the selector that worked. When all fail, the last error
// is returned.
func TryEach(ctx context.Context, sels plan.Selectors, fn func(ctx context.Context, sel string) error) (string, error) {
	var lastErr error
	tried := 0
	for _, raw := range sels {
		sel := sanitizeSelector(raw)
		if sel == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		tried++
		if err := fn(ctx, sel); err != nil {
			lastErr = fmt.Errorf("%s: %w", sel, err)
			continue
		}
		return sel, nil
	}
	if tried == 0 {
		return "", ErrNoSelectors
	}
	return "", lastErr
}

// sanitizeSelector removes whitespace garbage that models and page scripts
// tend to leave inside selectors.
func sanitizeSelector(sel string) string {
	if sel == "" {
		return ""
	}
	sel = strings.NewReplacer("\n", " ", "\r", " ", "\t", " ").Replace(sel)
	sel = strings.Join(strings.Fields(sel), " ")
	// Models occasionally wrap the selector in backticks or quotes.
	sel = strings.Trim(sel, "`")
	if len(sel) > 1 && (sel[0] == '\'' && sel[len(sel)-1] == '\'') {
		sel = sel[1 : len(sel)-1]
	}
	return strings.TrimSpace(sel)
}
