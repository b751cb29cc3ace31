//go:build !windows

package applier

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type scriptParams struct {
	PID        int
	StagingDir string
	InstallDir string
	Deletes    []string
	Relaunch   string
	ScriptPath string
}

// HelperScriptPath is the well-known temp location of the swap instructions.
func HelperScriptPath() string {
	return filepath.Join(os.TempDir(), "avenger-apply.sh")
}

func helperCommand(scriptPath string) (string, []string) {
	return "/bin/sh", []string{scriptPath}
}

// writeHelperScript emits a self-contained shell script that waits for the
// host to exit, copies every staged file over the live path, deletes stale
// paths, relaunches the application, and removes itself.
func writeHelperScript(path string, p scriptParams) error {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("set -e\n")
	fmt.Fprintf(&b, "elapsed=0\n")
	fmt.Fprintf(&b, "while kill -0 %d 2>/dev/null; do\n", p.PID)
	fmt.Fprintf(&b, "  sleep %d\n", int(waitPollInterval.Seconds()))
	fmt.Fprintf(&b, "  elapsed=$((elapsed+1))\n")
	fmt.Fprintf(&b, "  [ \"$elapsed\" -ge 120 ] && exit 1\n")
	b.WriteString("done\n")

	fmt.Fprintf(&b, "cd %s\n", shellQuote(p.StagingDir))
	b.WriteString("find . -type f | while read -r f; do\n")
	fmt.Fprintf(&b, "  dest=%s/\"${f#./}\"\n", shellQuote(p.InstallDir))
	b.WriteString("  mkdir -p \"$(dirname \"$dest\")\"\n")
	b.WriteString("  cp -p \"$f\" \"$dest\"\n")
	b.WriteString("done\n")

	for _, del := range p.Deletes {
		fmt.Fprintf(&b, "rm -f %s\n", shellQuote(filepath.Join(p.InstallDir, filepath.FromSlash(del))))
	}

	fmt.Fprintf(&b, "rm -rf %s\n", shellQuote(p.StagingDir))
	fmt.Fprintf(&b, "%s &\n", shellQuote(filepath.Join(p.InstallDir, p.Relaunch)))
	fmt.Fprintf(&b, "rm -f %s\n", shellQuote(p.ScriptPath))

	return os.WriteFile(path, []byte(b.String()), 0o755)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
