package engine

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DefaultExecutable is the engine's command name.
const DefaultExecutable = "claude"

// Locator resolves the engine executable path.
type Locator struct {
	lookPath func(string) (string, error)
	homeDir  func() (string, error)
	isFile   func(string) bool
}

// NewLocator creates a locator that searches PATH and the usual install dirs.
func NewLocator() *Locator {
	return &Locator{
		lookPath: exec.LookPath,
		homeDir:  os.UserHomeDir,
		isFile:   isRegularFile,
	}
}

// Resolve returns override when set, otherwise the first existing candidate,
// falling back to the bare command name.
func (l *Locator) Resolve(override string) string {
	if override = strings.TrimSpace(override); override != "" {
		return override
	}
	if path, err := l.lookPath(DefaultExecutable); err == nil {
		return path
	}
	for _, candidate := range l.candidates() {
		if l.isFile(candidate) {
			return candidate
		}
	}
	return DefaultExecutable
}

func (l *Locator) candidates() []string {
	out := []string{
		"/usr/local/bin/" + DefaultExecutable,
		"/opt/homebrew/bin/" + DefaultExecutable,
	}
	if home, err := l.homeDir(); err == nil && home != "" {
		out = append(out, filepath.Join(home, ".claude", "local", DefaultExecutable))
	}
	return out
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
