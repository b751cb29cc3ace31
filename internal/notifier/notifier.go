// Package notifier renders the update-availability banner shown after other
// commands complete.
package notifier

import (
	"fmt"
	"strings"

	"github.com/sccmavenger/avenger-updater/internal/printer"
)

const (
	borderColor = "\033[38;5;39m"
	resetColor  = "\033[0m"
	padding     = 2
)

// DisplayUpdateAvailable shows a boxed notification that a newer release
// exists.
func DisplayUpdateAvailable(currentVersion, latestVersion string) {
	p := printer.NewColorPrinter()

	lines := []string{
		p.Success("Update Available"),
		fmt.Sprintf("%s %s -> %s", p.Info("New version detected:"),
			p.Error(currentVersion), p.Success(latestVersion)),
		fmt.Sprintf("%s%s%s", p.Warning("Run "), p.Success("avenger-updater apply"),
			p.Warning(" to install it.")),
	}
	drawBox(lines)
}

// DisplayRestartToApply shows the "update staged" banner: the process must
// exit so the helper can swap files.
func DisplayRestartToApply(latestVersion string) {
	p := printer.NewColorPrinter()

	lines := []string{
		p.Success("Update Ready"),
		fmt.Sprintf("%s %s", p.Info("Version staged:"), p.Success(latestVersion)),
		p.Warning("Restart the application to finish applying it."),
	}
	drawBox(lines)
}

func drawBox(lines []string) {
	maxWidth := 0
	for _, line := range lines {
		if w := len(stripANSI(line)); w > maxWidth {
			maxWidth = w
		}
	}
	maxWidth += padding * 2

	topBottom := borderColor + "╭" + strings.Repeat("─", maxWidth) + "╮" + resetColor
	side := borderColor + "│" + resetColor

	fmt.Println(topBottom)
	for _, line := range lines {
		visible := len(stripANSI(line))
		left := (maxWidth - visible) / 2
		right := maxWidth - visible - left
		fmt.Printf("%s%s%s%s%s\n", side, strings.Repeat(" ", left), line, strings.Repeat(" ", right), side)
	}
	fmt.Println(borderColor + "╰" + strings.Repeat("─", maxWidth) + "╯" + resetColor)
}

// stripANSI removes escape sequences so box padding is computed on visible
// characters.
func stripANSI(s string) string {
	var b strings.Builder
	inEsc := false
	for _, r := range s {
		switch {
		case inEsc:
			if r == 'm' {
				inEsc = false
			}
		case r == '\033':
			inEsc = true
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
