// Package delivery hands a generated URL to the operator.
package delivery

import (
	"fmt"
	"io"

	"github.com/pkg/browser"

	"github.com/gooddata/sso-url/pkg/logger"
)

// Opener opens a URL with the system's default handler
type Opener func(url string) error

// OpenBrowser opens url in the default browser. The launcher's own output
// goes to the logger's stream rather than stdout.
func OpenBrowser(out io.Writer) Opener {
	return func(url string) error {
		browser.Stdout = out
		browser.Stderr = out
		return browser.OpenURL(url)
	}
}

// Options controls which side effects run
type Options struct {
	Print       bool
	OpenBrowser bool
}

// Deliverer prints and/or opens URLs
type Deliverer struct {
	out  io.Writer
	open Opener
	log  *logger.Logger
}

// New creates a deliverer printing to out and opening with open
func New(out io.Writer, open Opener, log *logger.Logger) *Deliverer {
	return &Deliverer{out: out, open: open, log: log}
}

// Deliver runs the requested side effects. Printing and opening are
// independent; the URL is returned either way.
func (d *Deliverer) Deliver(url string, opts Options) (string, error) {
	if opts.Print {
		if _, err := fmt.Fprintln(d.out, url); err != nil {
			return url, fmt.Errorf("failed to print url: %w", err)
		}
	}

	if opts.OpenBrowser {
		if d.open == nil {
			return url, fmt.Errorf("no browser launcher available")
		}
		d.log.Info("Opening browser")
		if err := d.open(url); err != nil {
			d.log.Error("Failed to open browser", "error", err)
			return url, fmt.Errorf("failed to open browser: %w", err)
		}
	}
	return url, nil
}
