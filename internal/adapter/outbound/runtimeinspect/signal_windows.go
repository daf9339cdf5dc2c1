//go:build windows

package runtimeinspect

import "os"

// Windows has no SIGHUP/SIGTERM equivalent reachable via os.Process.Signal;
// the local-process runtime source on Windows can only terminate the
// process outright, so hot-reload degrades to the same effect as stop.
func sendHangup(pid int) error {
	return sendTerminate(pid)
}

func sendTerminate(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
