package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
)

// Permissions for the output file and its parent directory.
const (
	outputFileMode = 0600
	outputDirMode  = 0750
)

// buildCommand creates the exec.Cmd for cfg without starting it.
func buildCommand(ctx context.Context, cfg Config) *exec.Cmd {
	cmd := exec.CommandContext(ctx, cfg.Binary, cfg.Args...) //nolint:gosec // binary path comes from operator configuration
	if cfg.Env != nil {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}
	cmd.Dir = cfg.WorkDir
	return cmd
}

// output is where a running process writes: an append-mode file, or
// pipes whose lines are forwarded to the logger.
type output struct {
	file    *os.File
	readers sync.WaitGroup
}

// drain blocks until the pipe readers have seen EOF. No-op for a file.
func (o *output) drain() {
	o.readers.Wait()
}

// close releases the output file, if any.
func (o *output) close() error {
	if o.file == nil {
		return nil
	}
	return o.file.Close()
}

// attachOutput wires stdout and stderr to the output file, or to the
// logger when no file is configured.
func (m *Manager) attachOutput(cmd *exec.Cmd) (*output, error) {
	out := &output{}
	if m.config.OutputFile != "" {
		f, err := openOutputFile(m.config.OutputFile)
		if err != nil {
			return nil, err
		}
		cmd.Stdout = f
		cmd.Stderr = f
		out.file = f
		return out, nil
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	out.readers.Add(2)
	go m.logLines(&out.readers, "stdout", stdout)
	go m.logLines(&out.readers, "stderr", stderr)
	return out, nil
}

// logLines forwards r to the logger one line at a time until EOF.
func (m *Manager) logLines(wg *sync.WaitGroup, stream string, r io.Reader) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		m.logger.Debug("process output", "name", m.config.Name, "stream", stream, "line", scanner.Text())
	}
}

// openOutputFile opens path for appending, creating it and its directory.
func openOutputFile(path string) (*os.File, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, outputDirMode); err != nil {
		return nil, fmt.Errorf("creating output directory %s: %w", dir, err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, outputFileMode) //nolint:gosec // path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("opening output file %s: %w", path, err)
	}
	return f, nil
}
