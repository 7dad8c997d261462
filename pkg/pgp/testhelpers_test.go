package pgp

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

// GenerateTestEntity creates an EdDSA key pair for the given email.
func GenerateTestEntity(t *testing.T, name, email string) *openpgp.Entity {
	t.Helper()
	e, err := openpgp.NewEntity(name, "test", email, &packet.Config{Algorithm: packet.PubKeyAlgoEdDSA})
	if err != nil {
		t.Fatalf("Failed to generate key for %s: %v", email, err)
	}
	return e
}

// LockTestEntity protects every private key of e with passphrase.
func LockTestEntity(t *testing.T, e *openpgp.Entity, passphrase string) {
	t.Helper()
	if err := e.EncryptPrivateKeys([]byte(passphrase), nil); err != nil {
		t.Fatalf("Failed to encrypt private keys: %v", err)
	}
}

// WriteTestKeyrings writes pubring.asc and secring.asc into dir.
func WriteTestKeyrings(t *testing.T, dir string, entities ...*openpgp.Entity) {
	t.Helper()

	var pub, sec bytes.Buffer
	pw, err := armor.Encode(&pub, openpgp.PublicKeyType, nil)
	if err != nil {
		t.Fatalf("armor: %v", err)
	}
	sw, err := armor.Encode(&sec, openpgp.PrivateKeyType, nil)
	if err != nil {
		t.Fatalf("armor: %v", err)
	}
	for _, e := range entities {
		if err := e.Serialize(pw); err != nil {
			t.Fatalf("Failed to serialize public key: %v", err)
		}
		if err := e.SerializePrivateWithoutSigning(sw, nil); err != nil {
			t.Fatalf("Failed to serialize private key: %v", err)
		}
	}
	pw.Close()
	sw.Close()

	if err := os.WriteFile(filepath.Join(dir, PublicKeyringFile), pub.Bytes(), 0o600); err != nil {
		t.Fatalf("write pubring: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, SecretKeyringFile), sec.Bytes(), 0o600); err != nil {
		t.Fatalf("write secring: %v", err)
	}
}

// DecryptAndVerify opens an armored token with the recipient's key, then
// verifies the inner signed message against the sender and returns its body.
func DecryptAndVerify(t *testing.T, token []byte, recipient, sender *openpgp.Entity) []byte {
	t.Helper()

	outer := readMessage(t, token, openpgp.EntityList{recipient})
	if !outer.IsEncrypted {
		t.Fatal("Expected encrypted message")
	}
	signed, err := io.ReadAll(outer.UnverifiedBody)
	if err != nil {
		t.Fatalf("Failed to read decrypted body: %v", err)
	}

	inner := readMessage(t, signed, openpgp.EntityList{sender})
	body, err := io.ReadAll(inner.UnverifiedBody)
	if err != nil {
		t.Fatalf("Failed to read signed body: %v", err)
	}
	if !inner.IsSigned {
		t.Fatal("Expected signed message")
	}
	if inner.SignatureError != nil {
		t.Fatalf("Signature verification failed: %v", inner.SignatureError)
	}
	if inner.SignedBy == nil {
		t.Fatal("Expected signer key to be known")
	}
	return body
}

func readMessage(t *testing.T, armored []byte, ring openpgp.EntityList) *openpgp.MessageDetails {
	t.Helper()
	block, err := armor.Decode(bytes.NewReader(armored))
	if err != nil {
		t.Fatalf("Failed to decode armor: %v", err)
	}
	if block.Type != messageBlockType {
		t.Fatalf("Expected %q block, got %q", messageBlockType, block.Type)
	}
	md, err := openpgp.ReadMessage(block.Body, ring, nil, nil)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	return md
}
