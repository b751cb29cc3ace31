//go:build windows

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
	return filepath.Join(os.TempDir(), "avenger-apply.bat")
}

func helperCommand(scriptPath string) (string, []string) {
	return "cmd", []string{"/C", scriptPath}
}

// writeHelperScript emits a self-deleting batch script: wait for the host
// PID, xcopy the staging tree over the install directory, delete stale
// paths, relaunch, then remove itself.
func writeHelperScript(path string, p scriptParams) error {
	var b strings.Builder
	b.WriteString("@echo off\r\n")
	b.WriteString(":waitloop\r\n")
	fmt.Fprintf(&b, "tasklist /FI \"PID eq %d\" 2>nul | find \"%d\" >nul\r\n", p.PID, p.PID)
	fmt.Fprintf(&b, "if not errorlevel 1 (timeout /T %d /NOBREAK >nul & goto waitloop)\r\n",
		int(waitPollInterval.Seconds()))

	fmt.Fprintf(&b, "xcopy \"%s\" \"%s\" /E /Y /I /Q\r\n", p.StagingDir, p.InstallDir)

	for _, del := range p.Deletes {
		fmt.Fprintf(&b, "del /F /Q \"%s\"\r\n", filepath.Join(p.InstallDir, filepath.FromSlash(del)))
	}

	fmt.Fprintf(&b, "rmdir /S /Q \"%s\"\r\n", p.StagingDir)
	fmt.Fprintf(&b, "start \"\" \"%s\"\r\n", filepath.Join(p.InstallDir, p.Relaunch))
	fmt.Fprintf(&b, "del /F /Q \"%s\"\r\n", p.ScriptPath)

	return os.WriteFile(path, []byte(b.String()), 0o755)
}
