// Package pgp signs and encrypts SSO token requests with OpenPGP.
//
// Two backends are available: "gpg" drives the GnuPG binary against the
// operator's key store, "native" uses a pure Go OpenPGP implementation over
// exported armored keyrings. Both report a missing passphrase through
// Result.NeedPassphrase rather than an error, so callers can prompt and retry.
package pgp

import (
	"context"
	"fmt"

	"github.com/gooddata/sso-url/pkg/logger"
)

// Backend names
const (
	BackendGPG    = "gpg"
	BackendNative = "native"
)

// SignOptions selects the signing key and optionally unlocks it
type SignOptions struct {
	KeyID      string
	Passphrase []byte
}

// EncryptOptions selects the recipient key
type EncryptOptions struct {
	Recipient string
	// AlwaysTrust skips the web-of-trust validity check for the recipient
	AlwaysTrust bool
}

// Result is the output of a sign or encrypt operation. Data is empty when the
// operation failed; Diagnostic then explains why.
type Result struct {
	Data           []byte
	Diagnostic     string
	NeedPassphrase bool
}

// Backend is the narrow signing/encryption capability used to build tokens.
// A non-nil error means the backend could not run at all.
type Backend interface {
	Name() string
	Sign(ctx context.Context, msg []byte, opts SignOptions) (*Result, error)
	Encrypt(ctx context.Context, msg []byte, opts EncryptOptions) (*Result, error)
}

// Config selects and configures a backend
type Config struct {
	Backend string
	// Binary is the gpg executable for the gpg backend
	Binary string
	// Home overrides the key store directory
	Home string
	// PublicKeyring and SecretKeyring are armored keyring files for the
	// native backend; they default to pubring.asc and secring.asc in Home.
	PublicKeyring string
	SecretKeyring string
}

// New creates the backend named in cfg
func New(cfg Config, log *logger.Logger) (Backend, error) {
	if log == nil {
		log = logger.New(logger.ComponentPGP)
	}
	switch cfg.Backend {
	case "", BackendGPG:
		return NewGPG(cfg.Binary, cfg.Home, log)
	case BackendNative:
		return NewNative(cfg.Home, cfg.PublicKeyring, cfg.SecretKeyring, log)
	default:
		return nil, fmt.Errorf("unknown crypto backend %q (want %s or %s)", cfg.Backend, BackendGPG, BackendNative)
	}
}
