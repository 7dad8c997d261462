package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"

	"github.com/gooddata/sso-url/pkg/pgp"
	"github.com/gooddata/sso-url/pkg/token"
)

var testNow = time.Unix(1700000000, 0)

// result is the outcome of one CLI invocation
type result struct {
	code   int
	stdout string
	stderr string
}

// testDeps never touch the terminal or a real browser
type testDeps struct {
	prompts    int
	passphrase string
	opened     []string
	openErr    error
}

func (d *testDeps) deps() deps {
	return deps{
		prompter: token.PrompterFunc(func(string) ([]byte, error) {
			d.prompts++
			if d.passphrase == "" {
				return nil, io.EOF
			}
			return []byte(d.passphrase), nil
		}),
		opener: func(url string) error {
			d.opened = append(d.opened, url)
			return d.openErr
		},
		now: func() time.Time { return testNow },
	}
}

func runCLI(t *testing.T, d deps, args ...string) result {
	t.Helper()
	// Keep the developer's config out of the test
	t.Setenv("HOME", t.TempDir())

	cmd := newRootCmd(d)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	code := run(context.Background(), cmd)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func newEntity(t *testing.T, name, email string) *openpgp.Entity {
	t.Helper()
	e, err := openpgp.NewEntity(name, "", email, &packet.Config{Algorithm: packet.PubKeyAlgoEdDSA})
	if err != nil {
		t.Fatalf("Failed to generate key for %s: %v", email, err)
	}
	return e
}

// writeSecretKeyring stores entities as the native backend's secret keyring
// in dir. Recipients are found there too when no public keyring exists.
func writeSecretKeyring(t *testing.T, dir string, entities ...*openpgp.Entity) {
	t.Helper()
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PrivateKeyType, nil)
	if err != nil {
		t.Fatalf("armor: %v", err)
	}
	for _, e := range entities {
		if err := e.SerializePrivateWithoutSigning(w, nil); err != nil {
			t.Fatalf("Failed to serialize private key: %v", err)
		}
	}
	w.Close()
	writeFile(t, dir, pgp.SecretKeyringFile, buf.String())
}

// openToken decrypts an armored token with recipient, verifies the signature
// of sender and decodes the token request inside.
func openToken(t *testing.T, tok string, recipient, sender *openpgp.Entity) token.Request {
	t.Helper()

	signed := readMessage(t, tok, recipient, true)
	body := readMessage(t, string(signed), sender, false)

	var req token.Request
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("Failed to decode token request %q: %v", body, err)
	}
	return req
}

func readMessage(t *testing.T, armored string, key *openpgp.Entity, encrypted bool) []byte {
	t.Helper()
	block, err := armor.Decode(strings.NewReader(armored))
	if err != nil {
		t.Fatalf("Failed to decode armor: %v", err)
	}
	md, err := openpgp.ReadMessage(block.Body, openpgp.EntityList{key}, nil, nil)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	if md.IsEncrypted != encrypted {
		t.Fatalf("Expected encrypted=%v, got %v", encrypted, md.IsEncrypted)
	}
	body, err := io.ReadAll(md.UnverifiedBody)
	if err != nil {
		t.Fatalf("Failed to read body: %v", err)
	}
	if !encrypted {
		if !md.IsSigned || md.SignatureError != nil {
			t.Fatalf("Expected a valid signature, got signed=%v err=%v", md.IsSigned, md.SignatureError)
		}
	}
	return body
}
