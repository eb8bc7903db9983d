package percy

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// defaultBinaryName is looked up on PATH when no explicit binary is configured.
const defaultBinaryName = "percy"

// BinaryProvider locates (and, for real installers, provisions) the Percy CLI.
//
// Downloading and installing the CLI is outside this package; callers that
// need it supply their own provider. The facade calls BinaryPath at most
// once successfully and caches the result.
type BinaryProvider interface {
	BinaryPath(ctx context.Context) (string, error)
}

// LocalBinary is a BinaryProvider for a CLI that is already installed.
// An empty Path means "look up percy on PATH".
type LocalBinary struct {
	Path string
}

// BinaryPath implements BinaryProvider.
func (b LocalBinary) BinaryPath(_ context.Context) (string, error) {
	if b.Path == "" {
		path, err := exec.LookPath(defaultBinaryName)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrBinaryNotFound, err)
		}
		return path, nil
	}

	info, err := os.Stat(b.Path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBinaryNotFound, err)
	}
	if info.IsDir() || info.Mode().Perm()&0111 == 0 {
		return "", fmt.Errorf("%w: %s is not an executable file", ErrBinaryNotFound, b.Path)
	}
	return b.Path, nil
}

// resolveBinary returns the cached binary path, asking the provider on first use.
// Failures are not cached so a later call can retry.
func (p *Percy) resolveBinary(ctx context.Context) (string, error) {
	p.binaryMu.Lock()
	defer p.binaryMu.Unlock()

	if p.binaryPath != "" {
		return p.binaryPath, nil
	}

	path, err := p.binaries.BinaryPath(ctx)
	if err != nil {
		return "", err
	}

	p.logger.Debug("percy binary resolved", "path", path)
	p.binaryPath = path
	return path, nil
}
