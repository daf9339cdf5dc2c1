//go:build windows

package filelock

import "golang.org/x/sys/windows"

// Lock acquires an exclusive file lock on Windows using LockFileEx. This
// blocks until the lock is available, matching Unix flock behavior.
func Lock(fd uintptr) error {
	var ol windows.Overlapped
	return windows.LockFileEx(windows.Handle(fd), windows.LOCKFILE_EXCLUSIVE_LOCK, 0, 1, 0, &ol)
}

// TryLock attempts to acquire an exclusive lock without blocking.
func TryLock(fd uintptr) (bool, error) {
	var ol windows.Overlapped
	err := windows.LockFileEx(windows.Handle(fd), windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY, 0, 1, 0, &ol)
	if err == nil {
		return true, nil
	}
	if err == windows.ERROR_LOCK_VIOLATION {
		return false, nil
	}
	return false, err
}

// Unlock releases the file lock on Windows using UnlockFileEx.
func Unlock(fd uintptr) error {
	var ol windows.Overlapped
	return windows.UnlockFileEx(windows.Handle(fd), 0, 1, 0, &ol)
}
