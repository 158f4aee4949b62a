package process

import (
	"os"
	"os/exec"
	"strings"

	"github.com/loykin/shieldserve/internal/env"
)

// Role names one of the processes a session runs.
type Role string

const (
	RoleService Role = "service"
	RoleProxy   Role = "proxy"
	RoleMonitor Role = "monitor"
)

// Spec describes how to launch one supervised process.
// It is persisted in the session manifest so the watchdog can relaunch a
// process with exactly the command it was first started with.
type Spec struct {
	Role    Role     `json:"role"`
	Path    string   `json:"path"`               // executable, absolute or resolved via PATH
	Args    []string `json:"args,omitempty"`     // arguments, without argv[0]
	Env     []string `json:"env,omitempty"`      // extra KEY=VALUE pairs on top of the launcher's env
	WorkDir string   `json:"work_dir,omitempty"` // optional working dir
}

// BuildCommand constructs an *exec.Cmd for the spec. The environment is the
// current process environment with Env applied on top.
func (s Spec) BuildCommand() *exec.Cmd {
	// #nosec G204
	cmd := exec.Command(s.Path, s.Args...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	if len(s.Env) > 0 {
		cmd.Env = env.Merge(os.Environ(), s.Env)
	}
	return cmd
}

// String renders the command line with env values hidden.
func (s Spec) String() string {
	var b strings.Builder
	b.WriteString(s.Path)
	for _, a := range s.Args {
		b.WriteByte(' ')
		b.WriteString(a)
	}
	return b.String()
}
