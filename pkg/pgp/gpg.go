package pgp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/gooddata/sso-url/pkg/logger"
)

// runFunc executes a command with the given stdin and returns its output.
// An *exec.ExitError is not treated as a failure to run.
type runFunc func(ctx context.Context, name string, args []string, stdin []byte) (stdout, stderr []byte, err error)

func execRun(ctx context.Context, name string, args []string, stdin []byte) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		err = nil
	}
	return stdout.Bytes(), stderr.Bytes(), err
}

// GPG drives the gpg binary. Status lines are requested on stderr so that
// the passphrase requirement can be read from the same channel as the
// human-readable diagnostics.
type GPG struct {
	binary string
	home   string
	run    runFunc
	log    *logger.Logger
}

// NewGPG locates binary (default "gpg") on PATH
func NewGPG(binary, home string, log *logger.Logger) (*GPG, error) {
	if binary == "" {
		binary = "gpg"
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("gpg binary not available: %w", err)
	}
	return &GPG{binary: path, home: home, run: execRun, log: log}, nil
}

func (g *GPG) Name() string { return BackendGPG }

func (g *GPG) baseArgs() []string {
	args := []string{"--batch", "--no-tty", "--status-fd", "2", "--armor"}
	if g.home != "" {
		args = append(args, "--homedir", g.home)
	}
	return args
}

// Sign produces an opaque (non-clearsigned) signed message
func (g *GPG) Sign(ctx context.Context, msg []byte, opts SignOptions) (*Result, error) {
	args := append(g.baseArgs(), "--pinentry-mode", "loopback")

	stdin := msg
	if opts.Passphrase != nil {
		// gpg reads the passphrase line from fd 0 and the message after it.
		args = append(args, "--passphrase-fd", "0")
		stdin = make([]byte, 0, len(opts.Passphrase)+1+len(msg))
		stdin = append(stdin, opts.Passphrase...)
		stdin = append(stdin, '\n')
		stdin = append(stdin, msg...)
		defer clear(stdin)
	}
	if opts.KeyID != "" {
		args = append(args, "--local-user", opts.KeyID)
	}
	args = append(args, "--sign")

	g.log.Debug("Running gpg sign", "key", opts.KeyID, "homedir", g.home)
	stdout, stderr, err := g.run(ctx, g.binary, args, stdin)
	if err != nil {
		return nil, fmt.Errorf("failed to run gpg: %w", err)
	}

	status := parseStatus(stderr)
	return &Result{
		Data:           stdout,
		Diagnostic:     strings.TrimSpace(string(stderr)),
		NeedPassphrase: status.needPassphrase(),
	}, nil
}

// Encrypt encrypts msg for the recipient
func (g *GPG) Encrypt(ctx context.Context, msg []byte, opts EncryptOptions) (*Result, error) {
	args := g.baseArgs()
	if opts.AlwaysTrust {
		args = append(args, "--trust-model", "always")
	}
	args = append(args, "--recipient", opts.Recipient, "--encrypt")

	g.log.Debug("Running gpg encrypt", "recipient", opts.Recipient, "homedir", g.home)
	stdout, stderr, err := g.run(ctx, g.binary, args, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to run gpg: %w", err)
	}

	return &Result{
		Data:       stdout,
		Diagnostic: strings.TrimSpace(string(stderr)),
	}, nil
}
