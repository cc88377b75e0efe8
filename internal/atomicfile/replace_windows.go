//go:build windows

package atomicfile

import (
	"errors"
	"syscall"
	"time"
	"unsafe"
)

const (
	movefileReplaceExisting = 0x1
	movefileWriteThrough    = 0x8

	errorAccessDenied     = syscall.Errno(5)
	errorSharingViolation = syscall.Errno(32)
)

var (
	modkernel32     = syscall.NewLazyDLL("kernel32.dll")
	procMoveFileExW = modkernel32.NewProc("MoveFileExW")
)

// osReplace 使用 MoveFileExW(REPLACE_EXISTING|WRITE_THROUGH)。
// 目标被 Excel 或杀毒软件短暂占用时，最多重试 5 次。
func osReplace(tmpPath, dest string) error {
	from, err := syscall.UTF16PtrFromString(tmpPath)
	if err != nil {
		return err
	}
	to, err := syscall.UTF16PtrFromString(dest)
	if err != nil {
		return err
	}
	var last error
	for i := 0; i < 5; i++ {
		r1, _, e1 := procMoveFileExW.Call(
			uintptr(unsafe.Pointer(from)),
			uintptr(unsafe.Pointer(to)),
			uintptr(movefileReplaceExisting|movefileWriteThrough),
		)
		if r1 != 0 {
			return nil
		}
		last = syscall.EINVAL
		var errno syscall.Errno
		if errors.As(e1, &errno) && errno != 0 {
			last = errno
			if errno != errorAccessDenied && errno != errorSharingViolation {
				return last
			}
		}
		time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
	}
	return last
}

// Windows 上目录无法 fsync。
func syncDir(string) error { return nil }
