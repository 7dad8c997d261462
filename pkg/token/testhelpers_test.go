package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gooddata/sso-url/pkg/logger"
	"github.com/gooddata/sso-url/pkg/pgp"
	"github.com/gooddata/sso-url/pkg/storage"
)

var testNow = time.Unix(1700000000, 0)

// stubBackend records calls and replays canned results.
type stubBackend struct {
	signResults []*pgp.Result
	signErr     error
	encResult   *pgp.Result
	encErr      error

	signCalls   []pgp.SignOptions
	signedMsgs  [][]byte
	encCalls    []pgp.EncryptOptions
	encryptMsgs [][]byte
}

func (s *stubBackend) Name() string { return "stub" }

func (s *stubBackend) Sign(ctx context.Context, msg []byte, opts pgp.SignOptions) (*pgp.Result, error) {
	// Keep a copy; the provider clears the passphrase after use.
	opts.Passphrase = append([]byte(nil), opts.Passphrase...)
	s.signCalls = append(s.signCalls, opts)
	s.signedMsgs = append(s.signedMsgs, msg)
	if s.signErr != nil {
		return nil, s.signErr
	}
	i := len(s.signCalls) - 1
	if i >= len(s.signResults) {
		i = len(s.signResults) - 1
	}
	return s.signResults[i], nil
}

func (s *stubBackend) Encrypt(ctx context.Context, msg []byte, opts pgp.EncryptOptions) (*pgp.Result, error) {
	s.encCalls = append(s.encCalls, opts)
	s.encryptMsgs = append(s.encryptMsgs, msg)
	if s.encErr != nil {
		return nil, s.encErr
	}
	return s.encResult, nil
}

// stubPrompter returns a fixed passphrase and remembers the slice it handed
// out so tests can check it was wiped.
type stubPrompter struct {
	pass   string
	err    error
	calls  int
	issued []byte
}

func (s *stubPrompter) Passphrase(prompt string) ([]byte, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	s.issued = []byte(s.pass)
	return s.issued, nil
}

type testProvider struct {
	*Provider
	backend   *stubBackend
	prompter  *stubPrompter
	source    *storage.MockSource
	factories int
}

func newTestProvider(t *testing.T, backend *stubBackend) *testProvider {
	t.Helper()
	tp := &testProvider{
		backend:  backend,
		prompter: &stubPrompter{pass: "s3cret"},
		source:   storage.NewMockSource(map[string]string{"/tmp/enc.txt": "FILE TOKEN"}),
	}
	tp.Provider = NewProvider(Deps{
		Source: tp.source,
		NewBackend: func() (pgp.Backend, error) {
			tp.factories++
			if tp.backend == nil {
				return nil, errors.New("backend unavailable")
			}
			return tp.backend, nil
		},
		Prompter: tp.prompter,
		Logger:   logger.Discard(),
		Now:      func() time.Time { return testNow },
	})
	return tp
}

func signOpts() Options {
	return Options{
		CustomerUser: "customer@example.com",
		Login:        "user@example.com",
		Recipient:    "ops@gooddata.com",
	}
}
