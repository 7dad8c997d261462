// Package token produces the security token embedded in an SSO URL.
//
// A token is either read verbatim from a file (or object storage), or built
// by signing a small JSON request with the customer's key and encrypting the
// signed message for the platform's key. Reading always wins when a source
// is given.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gooddata/sso-url/pkg/logger"
	"github.com/gooddata/sso-url/pkg/pgp"
	"github.com/gooddata/sso-url/pkg/storage"
	"github.com/gooddata/sso-url/pkg/telemetry"
)

// Mode says how a token was obtained
type Mode string

const (
	ModeFile Mode = "file"
	ModeSign Mode = "sign"
)

// PassphrasePrompt is shown when the signing key is locked
const PassphrasePrompt = "Passphrase: "

// Options are the per-run inputs of the provider
type Options struct {
	// EncryptedFile is a path or s3://bucket/key of a pre-encrypted token
	EncryptedFile string
	// CustomerUser selects the signing key
	CustomerUser string
	// Login is the platform user the token is issued for
	Login string
	// Recipient selects the encryption key
	Recipient string
	// Validity in epoch seconds; nil means now + DefaultValidityPeriod
	Validity *int64
}

// Token is a produced security token
type Token struct {
	Data     []byte
	Mode     Mode
	Validity int64
	// Prompted is set when a passphrase had to be asked for
	Prompted bool
}

func (t *Token) String() string {
	return string(t.Data)
}

// Mint describes a token about to be signed, for guards
type Mint struct {
	Request      Request
	CustomerUser string
	Recipient    string
}

// Guard may veto signing. Returning an error aborts the run.
type Guard interface {
	Authorize(ctx context.Context, m Mint) error
}

// GuardFunc adapts a function to Guard
type GuardFunc func(ctx context.Context, m Mint) error

func (f GuardFunc) Authorize(ctx context.Context, m Mint) error {
	return f(ctx, m)
}

// BackendFactory creates the crypto backend. It is only called when a token
// has to be signed, so reading a token never needs the backend.
type BackendFactory func() (pgp.Backend, error)

// Deps are the collaborators of a Provider
type Deps struct {
	Source     storage.TokenSource
	NewBackend BackendFactory
	Prompter   Prompter
	// Guard is optional
	Guard  Guard
	Logger *logger.Logger
	// Now defaults to time.Now
	Now func() time.Time
}

// Provider produces tokens
type Provider struct {
	source     storage.TokenSource
	newBackend BackendFactory
	prompter   Prompter
	guard      Guard
	log        *logger.Logger
	now        func() time.Time
}

// NewProvider creates a provider
func NewProvider(deps Deps) *Provider {
	p := &Provider{
		source:     deps.Source,
		newBackend: deps.NewBackend,
		prompter:   deps.Prompter,
		guard:      deps.Guard,
		log:        deps.Logger,
		now:        deps.Now,
	}
	if p.source == nil {
		p.source = storage.FileSource{}
	}
	if p.log == nil {
		p.log = logger.New(logger.ComponentToken)
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Provide returns a token for opts. The encrypted file takes precedence;
// otherwise both CustomerUser and Login are required.
func (p *Provider) Provide(ctx context.Context, opts Options) (*Token, error) {
	switch {
	case opts.EncryptedFile != "":
		return p.fromFile(ctx, opts.EncryptedFile)
	case opts.CustomerUser != "" && opts.Login != "":
		return p.signAndEncrypt(ctx, opts)
	default:
		return nil, configErrorf("token",
			"you must provide either an encrypted file or a login AND a customer user")
	}
}

func (p *Provider) fromFile(ctx context.Context, ref string) (*Token, error) {
	ctx, span := telemetry.StartSpan(ctx, "token.read",
		telemetry.AttrTokenMode.String(string(ModeFile)),
		telemetry.AttrTokenSource.String(ref),
	)
	defer span.End()

	data, err := p.source.Read(ctx, ref)
	if err != nil {
		err = &Error{Kind: KindIO, Op: "read token", Err: err}
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	p.log.Info("Read security token", "source", ref, "bytes", len(data))
	telemetry.SetSpanOK(span)
	return &Token{Data: data, Mode: ModeFile}, nil
}

func (p *Provider) signAndEncrypt(ctx context.Context, opts Options) (*Token, error) {
	ctx, span := telemetry.StartSpan(ctx, "token.create",
		telemetry.AttrTokenMode.String(string(ModeSign)),
		telemetry.AttrKeyID.String(opts.CustomerUser),
		telemetry.AttrRecipient.String(opts.Recipient),
	)
	defer span.End()

	tok, err := p.create(ctx, opts)
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}
	telemetry.SetSpanOK(span)
	return tok, nil
}

func (p *Provider) create(ctx context.Context, opts Options) (*Token, error) {
	req := NewRequest(opts.Login, opts.Validity, p.now())

	if p.guard != nil {
		mint := Mint{Request: req, CustomerUser: opts.CustomerUser, Recipient: opts.Recipient}
		if err := p.guard.Authorize(ctx, mint); err != nil {
			return nil, guardError(err)
		}
	}

	msg, err := req.Marshal()
	if err != nil {
		return nil, &Error{Kind: KindCrypto, Op: "encode request", Err: err}
	}

	if p.newBackend == nil {
		return nil, configErrorf("sign", "no crypto backend configured")
	}
	backend, err := p.newBackend()
	if err != nil {
		return nil, &Error{Kind: KindCrypto, Op: "crypto backend", Err: err}
	}

	signed, prompted, err := p.sign(ctx, backend, msg, opts.CustomerUser)
	if err != nil {
		return nil, err
	}

	enc, err := p.encrypt(ctx, backend, signed, opts.Recipient)
	if err != nil {
		return nil, err
	}

	p.log.Info("Created security token",
		"backend", backend.Name(),
		"key", opts.CustomerUser,
		"recipient", opts.Recipient,
		"validity", time.Unix(req.Validity, 0).UTC().Format(time.RFC3339))
	return &Token{Data: enc, Mode: ModeSign, Validity: req.Validity, Prompted: prompted}, nil
}

// sign attempts to sign msg and, if the key turns out to be locked, asks for
// the passphrase and tries exactly once more. The retry's result is taken as
// is; an empty signature is what catches a second failure.
func (p *Provider) sign(ctx context.Context, backend pgp.Backend, msg []byte, keyID string) ([]byte, bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "token.sign",
		telemetry.AttrCryptoBackend.String(backend.Name()),
		telemetry.AttrKeyID.String(keyID),
	)
	defer span.End()

	res, err := backend.Sign(ctx, msg, pgp.SignOptions{KeyID: keyID})
	if err != nil {
		return nil, false, &Error{Kind: KindCrypto, Op: "sign", Err: err}
	}

	prompted := false
	if res.NeedPassphrase {
		prompted = true
		span.SetAttributes(telemetry.AttrRetried.Bool(true))
		p.log.Debug("Signing key is locked, asking for passphrase", "key", keyID)

		res, err = p.signWithPassphrase(ctx, backend, msg, keyID)
		if err != nil {
			return nil, prompted, err
		}
	}

	if len(res.Data) == 0 {
		err := &Error{Kind: KindCrypto, Op: "sign", Msg: "signed message is empty", Detail: res.Diagnostic}
		telemetry.SetSpanError(span, err)
		return nil, prompted, err
	}
	return res.Data, prompted, nil
}

func (p *Provider) signWithPassphrase(ctx context.Context, backend pgp.Backend, msg []byte, keyID string) (*pgp.Result, error) {
	if p.prompter == nil {
		return nil, &Error{Kind: KindCrypto, Op: "sign", Msg: "signing key needs a passphrase and no prompt is available"}
	}

	passphrase, err := p.prompter.Passphrase(PassphrasePrompt)
	if err != nil {
		return nil, &Error{Kind: KindCrypto, Op: "passphrase", Msg: "passphrase entry aborted", Err: err}
	}
	defer clear(passphrase)
	if passphrase == nil {
		passphrase = []byte{}
	}

	res, err := backend.Sign(ctx, msg, pgp.SignOptions{KeyID: keyID, Passphrase: passphrase})
	if err != nil {
		return nil, &Error{Kind: KindCrypto, Op: "sign", Err: err}
	}
	return res, nil
}

func (p *Provider) encrypt(ctx context.Context, backend pgp.Backend, signed []byte, recipient string) ([]byte, error) {
	ctx, span := telemetry.StartSpan(ctx, "token.encrypt",
		telemetry.AttrCryptoBackend.String(backend.Name()),
		telemetry.AttrRecipient.String(recipient),
	)
	defer span.End()

	res, err := backend.Encrypt(ctx, signed, pgp.EncryptOptions{Recipient: recipient, AlwaysTrust: true})
	if err != nil {
		return nil, &Error{Kind: KindCrypto, Op: "encrypt", Err: err}
	}
	if len(res.Data) == 0 {
		err := &Error{Kind: KindCrypto, Op: "encrypt", Msg: "encrypted message is empty", Detail: res.Diagnostic}
		telemetry.SetSpanError(span, err)
		return nil, err
	}
	return res.Data, nil
}

func guardError(err error) error {
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}
	var denied interface{ Denied() bool }
	if errors.As(err, &denied) && denied.Denied() {
		return &Error{Kind: KindPolicy, Op: "authorize", Err: err}
	}
	return &Error{Kind: KindConfiguration, Op: "authorize", Err: fmt.Errorf("policy evaluation failed: %w", err)}
}
