package token

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// Prompter asks the operator for a passphrase. Callers own the returned
// slice and should clear it once used.
type Prompter interface {
	Passphrase(prompt string) ([]byte, error)
}

// PrompterFunc adapts a function to Prompter
type PrompterFunc func(prompt string) ([]byte, error)

func (f PrompterFunc) Passphrase(prompt string) ([]byte, error) {
	return f(prompt)
}

// TerminalPrompter reads a passphrase from In without echo when In is a
// terminal, or reads a single line otherwise.
type TerminalPrompter struct {
	In  *os.File
	Out io.Writer
}

// NewTerminalPrompter prompts on stderr and reads from stdin
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{In: os.Stdin, Out: os.Stderr}
}

func (p *TerminalPrompter) Passphrase(prompt string) ([]byte, error) {
	fmt.Fprint(p.Out, prompt)
	defer fmt.Fprintln(p.Out)

	fd := int(p.In.Fd())
	if term.IsTerminal(fd) {
		pass, err := term.ReadPassword(fd)
		if err != nil {
			return nil, fmt.Errorf("failed to read passphrase: %w", err)
		}
		return pass, nil
	}
	return readLine(p.In)
}

func readLine(r io.Reader) ([]byte, error) {
	line, err := bufio.NewReader(r).ReadBytes('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		clear(line)
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	return bytes.TrimRight(line, "\r\n"), nil
}
