package hookagent

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"
)

// preloadEnvVar names the dynamic linker's library-preload environment
// variable for the current platform.
func preloadEnvVar() (string, error) {
	switch runtime.GOOS {
	case "linux":
		return "LD_PRELOAD", nil
	case "darwin":
		return "DYLD_INSERT_LIBRARIES", nil
	default:
		return "", fmt.Errorf("hookagent: unsupported platform %s", runtime.GOOS)
	}
}

// spawnedProcess is the narrow handle Run needs to tear the target back
// down on shutdown.
type spawnedProcess struct {
	cmd *exec.Cmd
}

func (p *spawnedProcess) Kill() error {
	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

// spawnWithPreload launches argv with the platform preload variable set
// to agentLib and PHANTOM_AGENT_SOCK set to sockPath, so the C shim
// knows where to dial in. The child runs in its own session so a signal
// delivered to phantom itself doesn't also reach it directly.
func spawnWithPreload(agentLib, sockPath string, argv []string) (*spawnedProcess, error) {
	envVar, err := preloadEnvVar()
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(),
		envVar+"="+agentLib,
		"PHANTOM_AGENT_SOCK="+sockPath,
	)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("hookagent: start %s: %w", argv[0], err)
	}
	return &spawnedProcess{cmd: cmd}, nil
}
