//go:build windows

package fetcher

import "golang.org/x/sys/windows"

func diskFree(path string) (int64, error) {
	var freeToCaller, total, free uint64
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, err
	}
	if err := windows.GetDiskFreeSpaceEx(p, &freeToCaller, &total, &free); err != nil {
		return 0, err
	}
	return int64(freeToCaller), nil
}
