package version

import (
	"fmt"
	"runtime"
)

// Set at build time via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	Date      = "unknown"
	GoVersion = "unknown"
)

func Print() {
	fmt.Println("avenger-updater - Update engine for the Avenger dashboard client")
	fmt.Printf("  %-10s %s\n", "Version:", Version)
	fmt.Printf("  %-10s %s\n", "Go Version:", GoVersion)
	fmt.Printf("  %-10s %s\n", "Git Commit:", Commit)
	fmt.Printf("  %-10s %s\n", "Built:", Date)
	fmt.Printf("  %-10s %s/%s\n", "OS/Arch:", runtime.GOOS, runtime.GOARCH)
}
