package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// pidFilePath derives the running-instance pid file from the configured
// state file path, so "stop" run from a second invocation can find the
// process started by "start" without a separate daemon/IPC layer.
func pidFilePath(stateFilePath string) string {
	if stateFilePath == "" {
		return "./conductor.pid"
	}
	return stateFilePath + ".pid"
}

func writePidFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func removePidFile(path string) {
	_ = os.Remove(path)
}

func readPidFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read pid file %s: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file %s: %w", path, err)
	}
	return pid, nil
}
