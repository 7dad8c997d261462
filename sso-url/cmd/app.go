package cmd

import (
	"context"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gooddata/sso-url/pkg/config"
	"github.com/gooddata/sso-url/pkg/delivery"
	"github.com/gooddata/sso-url/pkg/logger"
	"github.com/gooddata/sso-url/pkg/metrics"
	"github.com/gooddata/sso-url/pkg/pgp"
	"github.com/gooddata/sso-url/pkg/policy"
	"github.com/gooddata/sso-url/pkg/ssourl"
	"github.com/gooddata/sso-url/pkg/storage"
	"github.com/gooddata/sso-url/pkg/telemetry"
	"github.com/gooddata/sso-url/pkg/token"
)

// app holds what the commands share for one invocation
type app struct {
	v    *viper.Viper
	deps deps
}

// session is one configured run: telemetry started and metrics recording
type session struct {
	cfg      config.Config
	log      *logger.Logger
	recorder *metrics.Recorder
	shutdown telemetry.ShutdownFunc
}

// start loads the configuration and brings up the ambient stack. needURL
// selects the stricter validation of the URL-producing command.
func (a *app) start(cmd *cobra.Command, needURL bool) (*session, error) {
	var cfg config.Config
	if err := config.Load(a.v, &cfg); err != nil {
		return nil, &token.Error{Kind: token.KindConfiguration, Op: "config", Err: err}
	}

	validate := cfg.Validate
	if needURL {
		validate = cfg.ValidateURL
	}
	if err := validate(); err != nil {
		return nil, &token.Error{Kind: token.KindConfiguration, Op: "config", Err: err}
	}

	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	log := logger.New(logger.ComponentSSOURL)

	shutdown, err := telemetry.Init(cmd.Context(), telemetry.Config{
		ServiceName:       appName,
		ServiceVersion:    Version,
		Enabled:           cfg.OTel.Enabled,
		CollectorEndpoint: cfg.OTel.CollectorEndpoint,
		Writer:            cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, &token.Error{Kind: token.KindConfiguration, Op: "telemetry", Err: err}
	}

	return &session{
		cfg:      cfg,
		log:      log,
		recorder: metrics.NewRecorder(),
		shutdown: shutdown,
	}, nil
}

// finish records the outcome, writes the metrics textfile and flushes spans.
// It returns err unchanged.
func (s *session) finish(err error) error {
	if err != nil {
		s.recorder.Failure(token.KindOf(err).String())
	}
	if path := s.cfg.Metrics.Textfile; path != "" {
		if werr := s.recorder.WriteTextfile(path); werr != nil {
			s.log.Warn("Failed to write metrics textfile", "path", path, "error", werr)
		}
	}
	if serr := s.shutdown(context.Background()); serr != nil {
		s.log.Warn("Failed to flush traces", "error", serr)
	}
	return err
}

// issue produces the security token for the session's configuration
func (a *app) issue(ctx context.Context, s *session) (*token.Token, error) {
	cfg := s.cfg

	provider := token.NewProvider(token.Deps{
		Source:     a.tokenSource(cfg),
		NewBackend: backendFactory(cfg),
		Prompter:   countingPrompter(a.deps.prompter, s.recorder),
		Guard:      policyGuard(cfg),
		Logger:     logger.New(logger.ComponentToken),
		Now:        a.deps.now,
	})

	tok, err := provider.Provide(ctx, token.Options{
		EncryptedFile: cfg.EncryptedFile,
		CustomerUser:  cfg.CustomerUser,
		Login:         cfg.Login,
		Recipient:     cfg.GoodDataUser,
		Validity:      cfg.Validity,
	})
	if err != nil {
		return nil, err
	}

	s.recorder.TokenIssued(string(tok.Mode), tok.Validity)
	return tok, nil
}

func (a *app) runURL(cmd *cobra.Command, args []string) error {
	s, err := a.start(cmd, true)
	if err != nil {
		return err
	}
	return s.finish(a.generate(cmd, s))
}

func (a *app) generate(cmd *cobra.Command, s *session) error {
	ctx, span := telemetry.StartSpan(cmd.Context(), "sso-url.generate",
		telemetry.AttrServerURL.String(s.cfg.ServerURL),
		telemetry.AttrDestination.String(s.cfg.DestinationServer),
	)
	defer span.End()

	s.log.Section("Generating SSO URL")

	tok, err := a.issue(ctx, s)
	if err != nil {
		telemetry.SetSpanError(span, err)
		return err
	}

	params := ssourl.Params{
		Destination: s.cfg.DestinationServer,
		Resource:    s.cfg.CustomerResource,
		ServerURL:   s.cfg.ServerURL,
		TargetURL:   s.cfg.TargetURL,
		Token:       tok.String(),
	}
	url := params.URL()
	if decoded, perr := ssourl.Parse(url); perr == nil {
		s.log.Debug("Built SSO URL",
			"base", decoded.Destination,
			"server_url", decoded.ServerURL,
			"target_url", decoded.TargetURL,
			"token_bytes", len(decoded.Token))
	}

	d := delivery.New(cmd.OutOrStdout(), a.deps.opener, logger.New(logger.ComponentDelivery))
	if _, err := d.Deliver(url, delivery.Options{
		Print:       !s.cfg.DontPrint,
		OpenBrowser: s.cfg.OpenBrowser,
	}); err != nil {
		err = &token.Error{Kind: token.KindIO, Op: "deliver", Err: err}
		telemetry.SetSpanError(span, err)
		return err
	}

	telemetry.SetSpanOK(span)
	s.log.Success("SSO URL generated", "mode", tok.Mode)
	return nil
}

func (a *app) tokenSource(cfg config.Config) storage.TokenSource {
	if a.deps.source != nil {
		return a.deps.source
	}
	s3cfg := storage.S3Config{
		BucketHost:      cfg.Storage.BucketHost,
		BucketPort:      cfg.Storage.BucketPort,
		UseSSL:          cfg.Storage.UseSSL,
		Region:          cfg.Storage.Region,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
	}
	return &storage.Router{
		Local: storage.FileSource{},
		NewS3: func(ctx context.Context) (storage.TokenSource, error) {
			return storage.NewS3Source(ctx, s3cfg)
		},
	}
}

func backendFactory(cfg config.Config) token.BackendFactory {
	return func() (pgp.Backend, error) {
		return pgp.New(cfg.Crypto.PGP(), logger.New(logger.ComponentPGP))
	}
}

func countingPrompter(p token.Prompter, rec *metrics.Recorder) token.Prompter {
	if p == nil {
		return nil
	}
	return token.PrompterFunc(func(prompt string) ([]byte, error) {
		rec.PassphrasePrompted()
		return p.Passphrase(prompt)
	})
}

// policyGuard compiles the policy on first use, so runs that never sign
// never touch the policy file.
func policyGuard(cfg config.Config) token.Guard {
	if cfg.Policy.File == "" {
		return nil
	}

	var (
		once   sync.Once
		engine *policy.Engine
		err    error
	)
	return token.GuardFunc(func(ctx context.Context, m token.Mint) error {
		once.Do(func() {
			engine, err = policy.Load(ctx, cfg.Policy.File, logger.New(logger.ComponentPolicy))
		})
		if err != nil {
			return err
		}
		return engine.Authorize(ctx, policy.Input{
			Login:        m.Request.Email,
			CustomerUser: m.CustomerUser,
			Recipient:    m.Recipient,
			ServerURL:    cfg.ServerURL,
			Destination:  cfg.DestinationServer,
			Validity:     m.Request.Validity,
		})
	})
}
