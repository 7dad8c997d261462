package cmd

import (
	"github.com/spf13/cobra"

	"github.com/gooddata/sso-url/pkg/token"
)

func newTokenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print only the security token",
		Long: `Print the security token without building a URL.

The output is written verbatim, so it can be redirected into a file and used
later with --encrypted-file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.start(cmd, false)
			if err != nil {
				return err
			}
			return s.finish(a.printToken(cmd, s))
		},
	}
}

func (a *app) printToken(cmd *cobra.Command, s *session) error {
	tok, err := a.issue(cmd.Context(), s)
	if err != nil {
		return err
	}
	if _, err := cmd.OutOrStdout().Write(tok.Data); err != nil {
		return &token.Error{Kind: token.KindIO, Op: "write token", Err: err}
	}
	return nil
}
