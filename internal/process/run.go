package process

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// Run executes a short-lived command to completion and returns its exit code.
//
// It is used for one-shot control commands (for example a CLI's stop
// subcommand) rather than for supervised daemons. cfg.Env, cfg.WorkDir and
// cfg.OutputFile are honoured; restart and callback settings are ignored.
//
// A non-zero exit is not an error: the code is returned with a nil error.
// An error is returned only when the command could not be run at all, in
// which case the exit code is -1.
func Run(ctx context.Context, cfg Config) (int, error) {
	if cfg.Binary == "" {
		return -1, ErrNoBinary
	}

	cmd := buildCommand(ctx, cfg)

	if cfg.OutputFile != "" {
		f, err := openOutputFile(cfg.OutputFile)
		if err != nil {
			return -1, err
		}
		defer f.Close()
		cmd.Stdout = f
		cmd.Stderr = f
	}

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}

	return -1, fmt.Errorf("running %s: %w", cfg.Name, err)
}
