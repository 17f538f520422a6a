package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// sanitizePath expands a leading "~/", makes the result absolute against the
// current directory, and rejects any path containing a NUL byte (a
// historically exploitable way to truncate a C string mid-syscall).
// Shared by fs_read, fs_write, and ls per spec.md §4.2's path-sanitize
// contract; grounded on the teacher-adjacent ~-expansion idiom used
// throughout haasonsaas-nexus (expandUserPath in cmd/nexus-edge/config.go).
func sanitizePath(path string) (string, error) {
	if strings.ContainsRune(path, 0) {
		return "", fmt.Errorf("path contains a null byte")
	}

	if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil && strings.TrimSpace(home) != "" {
			path = home
		}
	} else if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil && strings.TrimSpace(home) != "" {
			path = filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}

	return filepath.Abs(path)
}
