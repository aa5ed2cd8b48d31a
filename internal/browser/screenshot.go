package browser

import (
	"context"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// Capture takes a best-effort full-page screenshot into dir and returns the
// artifact file name, or "" when nothing was written. It never fails.
func Capture(ctx context.Context, ctrl Controller, dir, emailID, tag string, logger zerolog.Logger) string {
	if ctrl == nil || dir == "" {
		return ""
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn().Err(err).Str("dir", dir).Msg("screenshot dir")
		return ""
	}
	name := unsafeName.ReplaceAllString(emailID, "_") + "-" + tag + "-" + uuid.NewString() + ".png"
	if err := ctrl.Screenshot(ctx, filepath.Join(dir, name)); err != nil {
		logger.Warn().Err(err).Str("tag", tag).Msg("screenshot failed")
		return ""
	}
	return name
}
