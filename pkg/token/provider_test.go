package token

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/gooddata/sso-url/pkg/pgp"
	"github.com/gooddata/sso-url/pkg/storage"
)

func TestProvide_FromFile(t *testing.T) {
	tp := newTestProvider(t, &stubBackend{})

	tok, err := tp.Provide(context.Background(), Options{EncryptedFile: "/tmp/enc.txt"})
	if err != nil {
		t.Fatalf("Provide failed: %v", err)
	}
	if tok.String() != "FILE TOKEN" || tok.Mode != ModeFile {
		t.Errorf("Unexpected token %+v", tok)
	}
}

func TestProvide_FileTakesPrecedence(t *testing.T) {
	tp := newTestProvider(t, &stubBackend{})

	opts := signOpts()
	opts.EncryptedFile = "/tmp/enc.txt"
	tok, err := tp.Provide(context.Background(), opts)
	if err != nil {
		t.Fatalf("Provide failed: %v", err)
	}
	if tok.Mode != ModeFile {
		t.Errorf("Expected file mode, got %s", tok.Mode)
	}
	if tp.factories != 0 || len(tp.backend.signCalls) != 0 {
		t.Error("Signing must never be attempted when a file is given")
	}
}

func TestProvide_FileMissing(t *testing.T) {
	tp := newTestProvider(t, nil)

	_, err := tp.Provide(context.Background(), Options{EncryptedFile: "/tmp/missing.txt"})
	if !errors.Is(err, ErrIO) {
		t.Fatalf("Expected IOError, got %v", err)
	}
	var nf *storage.ErrNotFound
	if !errors.As(err, &nf) {
		t.Error("Expected ErrNotFound in chain")
	}
	if ExitCode(err) != 3 {
		t.Errorf("Expected exit code 3, got %d", ExitCode(err))
	}
}

func TestProvide_MissingInputs(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"nothing", Options{}},
		{"login only", Options{Login: "user@example.com"}},
		{"customer only", Options{CustomerUser: "customer@example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp := newTestProvider(t, &stubBackend{})

			_, err := tp.Provide(context.Background(), tt.opts)
			if !errors.Is(err, ErrConfiguration) {
				t.Fatalf("Expected ConfigurationError, got %v", err)
			}
			if tp.source.Reads() != 0 || tp.factories != 0 {
				t.Error("No file or crypto operation may run before the configuration check")
			}
		})
	}
}

func TestProvide_SignAndEncrypt(t *testing.T) {
	backend := &stubBackend{
		signResults: []*pgp.Result{{Data: []byte("SIGNED")}},
		encResult:   &pgp.Result{Data: []byte("ENCRYPTED")},
	}
	tp := newTestProvider(t, backend)

	tok, err := tp.Provide(context.Background(), signOpts())
	if err != nil {
		t.Fatalf("Provide failed: %v", err)
	}
	if tok.String() != "ENCRYPTED" || tok.Mode != ModeSign || tok.Prompted {
		t.Errorf("Unexpected token %+v", tok)
	}

	wantValidity := testNow.Unix() + 24*60*60
	if tok.Validity != wantValidity {
		t.Errorf("Expected default validity %d, got %d", wantValidity, tok.Validity)
	}
	wantMsg := `{"email":"user@example.com","validity":1700086400}`
	if string(backend.signedMsgs[0]) != wantMsg {
		t.Errorf("Expected signed payload %s, got %s", wantMsg, backend.signedMsgs[0])
	}
	if backend.signCalls[0].KeyID != "customer@example.com" || backend.signCalls[0].Passphrase != nil {
		t.Errorf("Unexpected sign options %+v", backend.signCalls[0])
	}
	if string(backend.encryptMsgs[0]) != "SIGNED" {
		t.Errorf("Expected signed blob to be encrypted, got %s", backend.encryptMsgs[0])
	}
	if enc := backend.encCalls[0]; enc.Recipient != "ops@gooddata.com" || !enc.AlwaysTrust {
		t.Errorf("Unexpected encrypt options %+v", enc)
	}
	if tp.prompter.calls != 0 {
		t.Error("Did not expect a passphrase prompt")
	}
}

func TestProvide_ExplicitValidity(t *testing.T) {
	tests := []struct {
		name     string
		validity int64
		want     string
	}{
		{"past", 1000, `"validity":1000}`},
		{"zero", 0, `"validity":0}`},
		{"negative", -86400, `"validity":-86400}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &stubBackend{
				signResults: []*pgp.Result{{Data: []byte("SIGNED")}},
				encResult:   &pgp.Result{Data: []byte("ENCRYPTED")},
			}
			tp := newTestProvider(t, backend)

			opts := signOpts()
			validity := tt.validity
			opts.Validity = &validity
			tok, err := tp.Provide(context.Background(), opts)
			if err != nil {
				t.Fatalf("Provide failed: %v", err)
			}
			if tok.Validity != tt.validity {
				t.Errorf("Expected validity %d, got %d", tt.validity, tok.Validity)
			}
			if !strings.Contains(string(backend.signedMsgs[0]), tt.want) {
				t.Errorf("Expected %s in payload %s", tt.want, backend.signedMsgs[0])
			}
		})
	}
}

func TestProvide_PassphraseRetry(t *testing.T) {
	backend := &stubBackend{
		signResults: []*pgp.Result{
			{NeedPassphrase: true, Diagnostic: "[GNUPG:] NEED_PASSPHRASE"},
			{Data: []byte("SIGNED")},
		},
		encResult: &pgp.Result{Data: []byte("ENCRYPTED")},
	}
	tp := newTestProvider(t, backend)

	tok, err := tp.Provide(context.Background(), signOpts())
	if err != nil {
		t.Fatalf("Provide failed: %v", err)
	}
	if !tok.Prompted {
		t.Error("Expected Prompted to be set")
	}
	if tp.prompter.calls != 1 {
		t.Errorf("Expected exactly one prompt, got %d", tp.prompter.calls)
	}
	if len(backend.signCalls) != 2 {
		t.Fatalf("Expected exactly two sign attempts, got %d", len(backend.signCalls))
	}
	if string(backend.signCalls[1].Passphrase) != "s3cret" {
		t.Errorf("Expected retry with passphrase, got %q", backend.signCalls[1].Passphrase)
	}
	for _, b := range tp.prompter.issued {
		if b != 0 {
			t.Fatal("Passphrase must be wiped after use")
		}
	}
}

func TestProvide_RetryFailsAgain(t *testing.T) {
	backend := &stubBackend{
		signResults: []*pgp.Result{
			{NeedPassphrase: true},
			{NeedPassphrase: true, Diagnostic: "gpg: signing failed: Bad passphrase"},
		},
		encResult: &pgp.Result{Data: []byte("ENCRYPTED")},
	}
	tp := newTestProvider(t, backend)

	_, err := tp.Provide(context.Background(), signOpts())
	if !errors.Is(err, ErrCrypto) {
		t.Fatalf("Expected CryptoError, got %v", err)
	}
	if !strings.Contains(err.Error(), "Bad passphrase") {
		t.Errorf("Expected library diagnostic in error, got %v", err)
	}
	if tp.prompter.calls != 1 || len(backend.signCalls) != 2 {
		t.Errorf("Expected a single retry, got %d prompts and %d sign calls", tp.prompter.calls, len(backend.signCalls))
	}
	if len(backend.encCalls) != 0 {
		t.Error("Encryption must not run after a failed signature")
	}
}

func TestProvide_PromptEOF(t *testing.T) {
	backend := &stubBackend{signResults: []*pgp.Result{{NeedPassphrase: true}}}
	tp := newTestProvider(t, backend)
	tp.prompter.err = io.EOF

	_, err := tp.Provide(context.Background(), signOpts())
	if !errors.Is(err, ErrCrypto) {
		t.Fatalf("Expected CryptoError, got %v", err)
	}
	if !errors.Is(err, io.EOF) {
		t.Error("Expected io.EOF in chain")
	}
	if len(backend.signCalls) != 1 {
		t.Errorf("Expected no retry after aborted prompt, got %d sign calls", len(backend.signCalls))
	}
}

func TestProvide_EmptySignature(t *testing.T) {
	backend := &stubBackend{
		signResults: []*pgp.Result{{Diagnostic: "gpg: skipped \"customer@example.com\": No secret key"}},
		encResult:   &pgp.Result{Data: []byte("ENCRYPTED")},
	}
	tp := newTestProvider(t, backend)

	_, err := tp.Provide(context.Background(), signOpts())
	if !errors.Is(err, ErrCrypto) {
		t.Fatalf("Expected CryptoError, got %v", err)
	}
	if !strings.Contains(err.Error(), "signed message is empty") || !strings.Contains(err.Error(), "No secret key") {
		t.Errorf("Unexpected message %v", err)
	}
	if len(backend.encCalls) != 0 {
		t.Error("Encryption must not run after an empty signature")
	}
	if tp.prompter.calls != 0 {
		t.Error("Only the passphrase signal may trigger a prompt")
	}
}

func TestProvide_EmptyCiphertext(t *testing.T) {
	backend := &stubBackend{
		signResults: []*pgp.Result{{Data: []byte("SIGNED")}},
		encResult:   &pgp.Result{Diagnostic: "gpg: ops@gooddata.com: skipped: No public key"},
	}
	tp := newTestProvider(t, backend)

	_, err := tp.Provide(context.Background(), signOpts())
	if !errors.Is(err, ErrCrypto) {
		t.Fatalf("Expected CryptoError, got %v", err)
	}
	if !strings.Contains(err.Error(), "encrypted message is empty") || !strings.Contains(err.Error(), "No public key") {
		t.Errorf("Unexpected message %v", err)
	}
	if ExitCode(err) != 4 {
		t.Errorf("Expected exit code 4, got %d", ExitCode(err))
	}
}

func TestProvide_BackendFailures(t *testing.T) {
	t.Run("factory", func(t *testing.T) {
		tp := newTestProvider(t, nil)
		_, err := tp.Provide(context.Background(), signOpts())
		if !errors.Is(err, ErrCrypto) {
			t.Fatalf("Expected CryptoError, got %v", err)
		}
	})

	t.Run("sign", func(t *testing.T) {
		backend := &stubBackend{signErr: errors.New("exec: gpg not found")}
		tp := newTestProvider(t, backend)
		_, err := tp.Provide(context.Background(), signOpts())
		if !errors.Is(err, ErrCrypto) {
			t.Fatalf("Expected CryptoError, got %v", err)
		}
		if len(backend.signCalls) != 1 || tp.prompter.calls != 0 {
			t.Error("Other failures must be fatal immediately")
		}
	})

	t.Run("encrypt", func(t *testing.T) {
		backend := &stubBackend{
			signResults: []*pgp.Result{{Data: []byte("SIGNED")}},
			encErr:      errors.New("boom"),
		}
		tp := newTestProvider(t, backend)
		_, err := tp.Provide(context.Background(), signOpts())
		if !errors.Is(err, ErrCrypto) {
			t.Fatalf("Expected CryptoError, got %v", err)
		}
	})
}

type deniedErr struct{}

func (deniedErr) Error() string { return "denied by policy: nope" }
func (deniedErr) Denied() bool  { return true }

func TestProvide_Guard(t *testing.T) {
	backend := &stubBackend{
		signResults: []*pgp.Result{{Data: []byte("SIGNED")}},
		encResult:   &pgp.Result{Data: []byte("ENCRYPTED")},
	}

	t.Run("denied", func(t *testing.T) {
		tp := newTestProvider(t, backend)
		var seen Mint
		tp.guard = GuardFunc(func(ctx context.Context, m Mint) error {
			seen = m
			return deniedErr{}
		})

		_, err := tp.Provide(context.Background(), signOpts())
		if !errors.Is(err, ErrPolicy) {
			t.Fatalf("Expected PolicyError, got %v", err)
		}
		if tp.factories != 0 {
			t.Error("Backend must not be created when the guard denies")
		}
		if seen.Request.Email != "user@example.com" || seen.Recipient != "ops@gooddata.com" {
			t.Errorf("Unexpected mint %+v", seen)
		}
	})

	t.Run("evaluation error", func(t *testing.T) {
		tp := newTestProvider(t, backend)
		tp.guard = GuardFunc(func(ctx context.Context, m Mint) error {
			return errors.New("rego: undefined function")
		})
		_, err := tp.Provide(context.Background(), signOpts())
		if !errors.Is(err, ErrConfiguration) {
			t.Fatalf("Expected ConfigurationError, got %v", err)
		}
	})

	t.Run("not consulted for files", func(t *testing.T) {
		tp := newTestProvider(t, backend)
		tp.guard = GuardFunc(func(ctx context.Context, m Mint) error {
			t.Error("Guard must not run for file tokens")
			return nil
		})
		if _, err := tp.Provide(context.Background(), Options{EncryptedFile: "/tmp/enc.txt"}); err != nil {
			t.Fatalf("Provide failed: %v", err)
		}
	})
}
