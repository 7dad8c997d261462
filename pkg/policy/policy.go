// Package policy gates token minting with a Rego policy.
//
// The policy module must define data.sso.decision as an object with a
// boolean "allow" and an optional string "reason".
package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/gooddata/sso-url/pkg/logger"
	"github.com/gooddata/sso-url/pkg/telemetry"
)

// DecisionQuery is the rule evaluated for every mint request
const DecisionQuery = "data.sso.decision"

// Input describes the token about to be minted
type Input struct {
	Login        string `json:"login"`
	CustomerUser string `json:"customer_user"`
	Recipient    string `json:"recipient"`
	ServerURL    string `json:"server_url"`
	Destination  string `json:"destination"`
	Validity     int64  `json:"validity"`
}

// Decision is the policy outcome
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason"`
}

// DeniedError is returned by Authorize when the policy does not allow the request
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	if e.Reason == "" {
		return "denied by policy"
	}
	return "denied by policy: " + e.Reason
}

// Denied marks the error as a policy decision rather than an evaluation failure
func (e *DeniedError) Denied() bool { return true }

// Engine evaluates a prepared Rego query
type Engine struct {
	query rego.PreparedEvalQuery
	log   *logger.Logger
}

// Load compiles the policy file at path
func Load(ctx context.Context, path string, log *logger.Logger) (*Engine, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}
	log.Info("Loading policy", "file", filepath.Base(path))
	return New(ctx, filepath.Base(path), string(src), log)
}

// New compiles a policy module from source
func New(ctx context.Context, name, src string, log *logger.Logger) (*Engine, error) {
	query, err := rego.New(
		rego.Query(DecisionQuery),
		rego.Module(name, src),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare policy query: %w", err)
	}
	return &Engine{query: query, log: log}, nil
}

// Evaluate runs the policy against in. An undefined decision denies.
func (e *Engine) Evaluate(ctx context.Context, in Input) (*Decision, error) {
	inputMap := map[string]any{
		"login":         in.Login,
		"customer_user": in.CustomerUser,
		"recipient":     in.Recipient,
		"server_url":    in.ServerURL,
		"destination":   in.Destination,
		"validity":      in.Validity,
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		return nil, fmt.Errorf("evaluation error: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return &Decision{Allow: false, Reason: "No policy decision available"}, nil
	}

	resultMap, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return &Decision{Allow: false, Reason: "Invalid policy result format"}, nil
	}

	decision := &Decision{}
	if allow, ok := resultMap["allow"].(bool); ok {
		decision.Allow = allow
	}
	if reason, ok := resultMap["reason"].(string); ok {
		decision.Reason = reason
	}
	return decision, nil
}

// Authorize returns a *DeniedError unless the policy allows in
func (e *Engine) Authorize(ctx context.Context, in Input) error {
	ctx, span := telemetry.StartSpan(ctx, "policy.authorize",
		telemetry.AttrServerURL.String(in.ServerURL),
		telemetry.AttrDestination.String(in.Destination),
	)
	defer span.End()

	decision, err := e.Evaluate(ctx, in)
	if err != nil {
		telemetry.SetSpanError(span, err)
		return err
	}
	span.SetAttributes(telemetry.AttrDecision.Bool(decision.Allow))
	if !decision.Allow {
		e.log.Deny(decision.Reason, "login", in.Login, "server_url", in.ServerURL)
		return &DeniedError{Reason: decision.Reason}
	}
	e.log.Allow(decision.Reason, "login", in.Login)
	telemetry.SetSpanOK(span)
	return nil
}
