package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gooddata/sso-url/pkg/config"
	"github.com/gooddata/sso-url/pkg/delivery"
	"github.com/gooddata/sso-url/pkg/storage"
	"github.com/gooddata/sso-url/pkg/token"
)

const appName = "sso-url"

// deps are the process-level collaborators a run uses
type deps struct {
	prompter token.Prompter
	opener   delivery.Opener
	now      func() time.Time
	// source overrides the file/S3 router
	source storage.TokenSource
}

func defaultDeps() deps {
	return deps{
		prompter: token.NewTerminalPrompter(),
		opener:   delivery.OpenBrowser(os.Stderr),
		now:      time.Now,
	}
}

// NewRootCmd creates the command tree with its own viper instance
func NewRootCmd() *cobra.Command {
	return newRootCmd(defaultDeps())
}

func newRootCmd(d deps) *cobra.Command {
	var cfgFile string
	v := config.InitViper(appName)

	a := &app{v: v, deps: d}

	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "Generate a single sign-on URL",
		Long: `Generate a single sign-on URL for the analytics platform.

The security token is either read from a pre-encrypted file (--encrypted-file,
a local path or s3://bucket/key) or created by signing {email, validity} with
the --customer-user key and encrypting it for the --gooddata-user key. The URL
is printed on stdout and can be opened in the default browser.`,
		Example: `  # sign with your key store and print the URL
  sso-url --server-url http://mydomain.com --customer-user sso@mydomain.com --login user@mydomain.com

  # same, then open it
  sso-url --server-url http://mydomain.com --customer-user sso@mydomain.com --login user@mydomain.com --open-browser

  # no key store needed, token encrypted elsewhere
  sso-url --server-url http://mydomain.com --encrypted-file /tmp/enc.txt

  # prepare that file by hand with gpg
  echo "{\"email\":\"$LOGIN\",\"validity\":$(($(date +%s) + 86400))}" > json.txt
  gpg --armor -u $KEY_OWNER --output signed.txt --sign json.txt
  gpg --armor --output enc.txt --encrypt --recipient ops@gooddata.com signed.txt`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
			}
		},
		RunE: a.runURL,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	config.BindFlags(rootCmd, v)

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &token.Error{Kind: token.KindConfiguration, Op: "flags", Err: err}
	})

	rootCmd.AddCommand(newTokenCmd(a))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute runs the CLI and returns the process exit code
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return run(ctx, NewRootCmd())
}

func run(ctx context.Context, cmd *cobra.Command) int {
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", appName, err)
		if errors.Is(err, context.Canceled) {
			return 130
		}
		return token.ExitCode(err)
	}
	return 0
}
