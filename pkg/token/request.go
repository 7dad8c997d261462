package token

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultValidityPeriod is how long a token is valid when no explicit
// validity is given
const DefaultValidityPeriod = 24 * time.Hour

// Request is the payload that gets signed and encrypted
type Request struct {
	Email    string `json:"email"`
	Validity int64  `json:"validity"`
}

// NewRequest creates a request for login. A nil validity means
// now + DefaultValidityPeriod; any given value, zero or past included, is
// used unchecked.
func NewRequest(login string, validity *int64, now time.Time) Request {
	if validity == nil {
		return Request{Email: login, Validity: DefaultValidity(now)}
	}
	return Request{Email: login, Validity: *validity}
}

// DefaultValidity returns the epoch seconds DefaultValidityPeriod after now
func DefaultValidity(now time.Time) int64 {
	return now.Add(DefaultValidityPeriod).Unix()
}

// Marshal returns the compact JSON form of r
func (r Request) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return nil, fmt.Errorf("failed to encode token request: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
