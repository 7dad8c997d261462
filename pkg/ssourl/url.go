package ssourl

import (
	"fmt"
	"net/url"
	"strings"
)

// Defaults used when the caller does not override them
const (
	DefaultDestination = "https://sso-r73-test-devel.getgooddata.com/"
	DefaultResource    = "gdc/account/customerlogin"
	DefaultTarget      = "/dashboard.html#project=/gdc/projects/CustomerAnalytics" +
		"&dashboard=/gdc/md/CustomerAnalytics/obj/923"
)

// Query parameter names, in the order they appear in a built URL
const (
	ParamSessionID = "sessionId"
	ParamServerURL = "serverURL"
	ParamTargetURL = "targetURL"
)

// Params holds everything that goes into a redirect URL
type Params struct {
	Destination string
	Resource    string
	ServerURL   string
	TargetURL   string
	Token       string
}

// URL builds the redirect URL for p
func (p Params) URL() string {
	return Build(p.Destination, p.Resource, p.ServerURL, p.TargetURL, p.Token)
}

// Build concatenates destination and resource and appends the sessionId,
// serverURL and targetURL query parameters in that order. Only the three
// parameter values are escaped; destination and resource are used as given.
func Build(destination, resource, serverURL, targetURL, token string) string {
	var b strings.Builder
	b.Grow(len(destination) + len(resource) + 3*(len(serverURL)+len(targetURL)+len(token)) + 40)
	b.WriteString(destination)
	b.WriteString(resource)
	b.WriteString("?" + ParamSessionID + "=")
	b.WriteString(Escape(token))
	b.WriteString("&" + ParamServerURL + "=")
	b.WriteString(Escape(serverURL))
	b.WriteString("&" + ParamTargetURL + "=")
	b.WriteString(Escape(targetURL))
	return b.String()
}

// Escape percent-encodes every byte outside the unreserved set
// (ALPHA / DIGIT / "-" / "." / "_" / "~"). Spaces become %20.
func Escape(s string) string {
	// QueryEscape already escapes every reserved byte, and a literal '+'
	// comes out as %2B, so any '+' left over stands for a space.
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// Parse splits a URL produced by Build back into its base and the decoded
// parameter values. The base (destination plus resource) is returned in
// Destination; Resource is left empty.
func Parse(raw string) (Params, error) {
	base, query, ok := strings.Cut(raw, "?")
	if !ok {
		return Params{}, fmt.Errorf("no query string in %q", raw)
	}

	values, err := url.ParseQuery(query)
	if err != nil {
		return Params{}, fmt.Errorf("failed to parse query: %w", err)
	}
	for _, name := range []string{ParamSessionID, ParamServerURL, ParamTargetURL} {
		if _, ok := values[name]; !ok {
			return Params{}, fmt.Errorf("missing %s parameter", name)
		}
	}

	return Params{
		Destination: base,
		ServerURL:   values.Get(ParamServerURL),
		TargetURL:   values.Get(ParamTargetURL),
		Token:       values.Get(ParamSessionID),
	}, nil
}
