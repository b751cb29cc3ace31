package utils

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/sccmavenger/avenger-updater/internal/logger"
)

// Try runs a deferred cleanup and reports its failure without masking the
// primary error path.
func Try(f func() error) {
	if err := f(); err != nil {
		logger.Debug("deferred cleanup failed: %v", err)
	}
}

func Close(c io.Closer) {
	if err := c.Close(); err != nil {
		logger.Debug("close failed: %v", err)
	}
}

// NormalizePath converts OS-specific separators to the forward-slash form
// used as the manifest's relative-path key space.
func NormalizePath(p string) string {
	return path.Clean(strings.ReplaceAll(p, "\\", "/"))
}

// HumanSize renders a byte count for log lines and tables.
func HumanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
