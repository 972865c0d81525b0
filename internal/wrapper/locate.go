package wrapper

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Locate finds the target CLI binary: PATH first, then a short allowlist of
// common install prefixes that may be missing from a non-interactive PATH.
// Symlinks are resolved so the real binary runs.
func Locate(name string) (string, error) {
	if strings.Contains(name, string(filepath.Separator)) {
		if isExecutable(name) {
			return resolve(name), nil
		}
		return "", fmt.Errorf("%s is not an executable", name)
	}

	if p, err := exec.LookPath(name); err == nil {
		return resolve(p), nil
	}

	home, _ := os.UserHomeDir()
	prefixes := []string{
		filepath.Join(home, ".local", "bin"),
		filepath.Join(home, "bin"),
		"/usr/local/bin",
		"/opt/homebrew/bin",
	}
	for _, dir := range prefixes {
		p := filepath.Join(dir, name)
		if isExecutable(p) {
			return resolve(p), nil
		}
	}
	return "", fmt.Errorf("%q not found in PATH or common install locations", name)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Mode()&0111 != 0
}

func resolve(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return path
}
