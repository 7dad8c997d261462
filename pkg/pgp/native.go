package pgp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"

	"github.com/gooddata/sso-url/pkg/logger"
)

// Default keyring file names inside the key store directory
const (
	PublicKeyringFile = "pubring.asc"
	SecretKeyringFile = "secring.asc"

	messageBlockType = "PGP MESSAGE"
)

// Native signs and encrypts in process over in-memory keyrings
type Native struct {
	public openpgp.EntityList
	secret openpgp.EntityList
	config *packet.Config
	log    *logger.Logger
}

// NewNative loads armored keyrings. Empty paths default to the standard
// names inside home (or the current directory when home is empty). A
// missing public keyring is tolerated; recipients are then looked up in the
// secret keyring.
func NewNative(home, publicPath, secretPath string, log *logger.Logger) (*Native, error) {
	if publicPath == "" {
		publicPath = filepath.Join(home, PublicKeyringFile)
	}
	if secretPath == "" {
		secretPath = filepath.Join(home, SecretKeyringFile)
	}

	secret, err := readKeyringFile(secretPath)
	if err != nil {
		return nil, err
	}
	public, err := readKeyringFile(publicPath)
	if errors.Is(err, os.ErrNotExist) {
		public = nil
	} else if err != nil {
		return nil, err
	}

	log.Debug("Loaded keyrings", "public", len(public), "secret", len(secret))
	return NewNativeFromKeyrings(public, secret, log), nil
}

// NewNativeFromKeyrings creates a backend over already parsed keyrings
func NewNativeFromKeyrings(public, secret openpgp.EntityList, log *logger.Logger) *Native {
	return &Native{
		public: public,
		secret: secret,
		config: &packet.Config{},
		log:    log,
	}
}

func readKeyringFile(path string) (openpgp.EntityList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	defer f.Close()

	ring, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read keyring %s: %w", path, err)
	}
	return ring, nil
}

func (n *Native) Name() string { return BackendNative }

// Sign produces an armored, non-clearsigned signed message. A locked key
// without a passphrase yields NeedPassphrase; a wrong passphrase yields an
// empty result with a diagnostic.
func (n *Native) Sign(ctx context.Context, msg []byte, opts SignOptions) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	signer := findEntity(n.secret, opts.KeyID, true)
	if signer == nil {
		return &Result{Diagnostic: fmt.Sprintf("secret key not available: %q", opts.KeyID)}, nil
	}

	if isLocked(signer) {
		if opts.Passphrase == nil {
			return &Result{
				Diagnostic:     fmt.Sprintf("secret key %s is protected by a passphrase", signer.PrimaryKey.KeyIdString()),
				NeedPassphrase: true,
			}, nil
		}
		if err := signer.DecryptPrivateKeys(opts.Passphrase); err != nil {
			return &Result{Diagnostic: "bad passphrase: " + err.Error()}, nil
		}
	}

	var buf bytes.Buffer
	if err := n.sign(&buf, signer, msg); err != nil {
		return &Result{Diagnostic: err.Error()}, nil
	}
	return &Result{Data: buf.Bytes()}, nil
}

func (n *Native) sign(out io.Writer, signer *openpgp.Entity, msg []byte) error {
	aw, err := armor.Encode(out, messageBlockType, nil)
	if err != nil {
		return err
	}
	w, err := openpgp.Sign(aw, signer, nil, n.config)
	if err != nil {
		return fmt.Errorf("signing failed: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return aw.Close()
}

// Encrypt encrypts msg for the recipient. The native backend has no trust
// database, so AlwaysTrust has no effect.
func (n *Native) Encrypt(ctx context.Context, msg []byte, opts EncryptOptions) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	recipient := findEntity(n.public, opts.Recipient, false)
	if recipient == nil {
		recipient = findEntity(n.secret, opts.Recipient, false)
	}
	if recipient == nil {
		return &Result{Diagnostic: fmt.Sprintf("%s: public key not found", opts.Recipient)}, nil
	}

	var buf bytes.Buffer
	if err := n.encrypt(&buf, recipient, msg); err != nil {
		return &Result{Diagnostic: err.Error()}, nil
	}
	return &Result{Data: buf.Bytes()}, nil
}

func (n *Native) encrypt(out io.Writer, recipient *openpgp.Entity, msg []byte) error {
	aw, err := armor.Encode(out, messageBlockType, nil)
	if err != nil {
		return err
	}
	w, err := openpgp.Encrypt(aw, []*openpgp.Entity{recipient}, nil, nil, n.config)
	if err != nil {
		return fmt.Errorf("encryption failed: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return aw.Close()
}

// findEntity matches id against user ids (case-insensitive substring, as
// gpg does for plain names) or the tail of the key id / fingerprint.
func findEntity(ring openpgp.EntityList, id string, needPrivate bool) *openpgp.Entity {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	hexID := strings.ToUpper(strings.TrimPrefix(strings.TrimPrefix(id, "0x"), "0X"))
	lowerID := strings.ToLower(id)

	for _, e := range ring {
		if needPrivate && e.PrivateKey == nil {
			continue
		}
		fpr := strings.ToUpper(fmt.Sprintf("%X", e.PrimaryKey.Fingerprint))
		if len(hexID) >= 8 && strings.HasSuffix(fpr, hexID) {
			return e
		}
		for name := range e.Identities {
			if strings.Contains(strings.ToLower(name), lowerID) {
				return e
			}
		}
	}
	return nil
}

func isLocked(e *openpgp.Entity) bool {
	if e.PrivateKey != nil && e.PrivateKey.Encrypted {
		return true
	}
	for _, sub := range e.Subkeys {
		if sub.PrivateKey != nil && sub.PrivateKey.Encrypted {
			return true
		}
	}
	return false
}
