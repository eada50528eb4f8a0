//go:build windows

package lockmgr

import (
	"time"

	"golang.org/x/sys/windows"
)

type windowsLock struct {
	handle windows.Handle
}

func (l *windowsLock) Unlock() {
	_ = windows.ReleaseMutex(l.handle)
	_ = windows.CloseHandle(l.handle)
}

func acquireNamed(name string, timeout time.Duration) (Lock, bool, error) {
	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, false, err
	}

	handle, err := windows.CreateMutex(nil, false, namePtr)
	if err != nil {
		return nil, false, err
	}

	waitMs := uint32(timeout.Milliseconds())
	event, err := windows.WaitForSingleObject(handle, waitMs)
	switch event {
	case windows.WAIT_OBJECT_0, windows.WAIT_ABANDONED:
		// WAIT_ABANDONED means the previous owner exited without
		// releasing; the mutex is still ours now, the shared state it
		// guards may be stale but that is inherent in crash recovery.
		return &windowsLock{handle: handle}, true, nil
	case uint32(windows.WAIT_TIMEOUT):
		_ = windows.CloseHandle(handle)
		return nil, false, nil
	default:
		_ = windows.CloseHandle(handle)
		if err != nil {
			return nil, false, err
		}
		return nil, false, timeoutError(name, timeout)
	}
}
