//go:build windows

package config

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// replaceFile moves src over dst. os.Rename refuses an existing target on
// Windows, so MoveFileEx is asked to replace it and flush before returning.
func replaceFile(src, dst string) error {
	from, err := windows.UTF16PtrFromString(src)
	if err != nil {
		return err
	}
	to, err := windows.UTF16PtrFromString(dst)
	if err != nil {
		return err
	}
	flags := uint32(windows.MOVEFILE_REPLACE_EXISTING | windows.MOVEFILE_WRITE_THROUGH)
	if err := windows.MoveFileEx(from, to, flags); err != nil {
		return fmt.Errorf("replace %s: %w", dst, err)
	}
	return nil
}
