package pgp

import (
	"bufio"
	"bytes"
	"strings"
)

const statusPrefix = "[GNUPG:] "

// status holds the keywords gpg reported on its status channel
type status map[string][]string

func parseStatus(out []byte) status {
	st := make(status)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line, ok := strings.CutPrefix(sc.Text(), statusPrefix)
		if !ok {
			continue
		}
		keyword, args, _ := strings.Cut(line, " ")
		st[keyword] = append(st[keyword], args)
	}
	return st
}

func (s status) has(keyword string) bool {
	_, ok := s[keyword]
	return ok
}

// needPassphrase reports whether gpg stopped because the secret key is
// protected and no passphrase was supplied
func (s status) needPassphrase() bool {
	return s.has("NEED_PASSPHRASE") && !s.has("SIG_CREATED")
}
