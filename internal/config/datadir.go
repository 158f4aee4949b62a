package config

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	// ProjectDirName is the data directory created at a repository root.
	ProjectDirName = ".shieldserve"
	// UserDirName is the data directory under the user config directory.
	UserDirName = "shieldserve"
)

const gitTimeout = 3 * time.Second

// ResolveDataDir picks the session data directory. An explicit override wins;
// inside a git working tree it is <toplevel>/.shieldserve, otherwise
// <user config dir>/shieldserve. The directory is created with 0700.
func ResolveDataDir(ctx context.Context, override string) (string, error) {
	dir := strings.TrimSpace(override)
	if dir == "" {
		if top := gitTopLevel(ctx); top != "" {
			dir = filepath.Join(top, ProjectDirName)
		} else {
			base, err := os.UserConfigDir()
			if err != nil {
				return "", fmt.Errorf("locate user config dir: %w", err)
			}
			dir = filepath.Join(base, UserDirName)
		}
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return "", fmt.Errorf("create data dir %s: %w", abs, err)
	}
	return abs, nil
}

// gitTopLevel returns the repository root of the working directory, or ""
// when git is missing or the directory is not inside a working tree.
func gitTopLevel(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "git", "rev-parse", "--show-toplevel").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
