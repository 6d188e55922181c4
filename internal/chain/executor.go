// internal/chain/executor.go
package chain

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/qaframe/internal/apiclient"
	"github.com/xkilldash9x/qaframe/internal/qaerr"
)

// Context is the key-value state shared by the steps of one chain execution.
// Extracted values are visible to every later step.
type Context map[string]any

// Step is one HTTP call of a chain.
type Step struct {
	Name     string
	Method   string
	Endpoint string
	Headers  map[string]string
	Body     any
	// Auth names a token type; the request then carries its bearer token.
	Auth     string
	Extract  Extractor
	Validate Validator
}

// Requester performs HTTP calls. *apiclient.Client implements it.
type Requester interface {
	Do(ctx context.Context, r apiclient.Request) (*apiclient.Response, error)
}

// TokenSource provides bearer tokens by type. *auth.Manager implements it.
type TokenSource interface {
	ValidToken(ctx context.Context, tokenType string) (string, error)
}

// StepResult records one executed step.
type StepResult struct {
	Index      int
	Name       string
	StatusCode int
	Duration   time.Duration
	Extracted  map[string]any
	Response   *apiclient.Response
}

// Result is the outcome of a chain. Steps holds every step that ran, including the
// failing one when the response was received.
type Result struct {
	Steps   []StepResult
	Context Context
	Failed  *StepError
}

func (r *Result) Success() bool { return r.Failed == nil }

// StepError identifies the step that aborted a chain.
type StepError struct {
	Index int
	Name  string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("chain step %d (%s) failed: %v", e.Index+1, e.Name, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Executor runs chains strictly sequentially. It is safe to share between goroutines;
// each Execute call owns its own Context.
type Executor struct {
	client Requester
	tokens TokenSource
	logger *zap.Logger
}

// NewExecutor creates an executor. tokens may be nil when no step uses Auth.
func NewExecutor(client Requester, tokens TokenSource, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{client: client, tokens: tokens, logger: logger.Named("chain")}
}

// Execute runs steps with an empty context.
func (e *Executor) Execute(ctx context.Context, steps []Step) (*Result, error) {
	return e.ExecuteWith(ctx, nil, steps)
}

// ExecuteWith runs steps in order starting from a copy of initial. The first step
// whose request fails, whose validator rejects the response or whose extractor fails
// aborts the chain; later steps never run. The returned error is a *StepError.
func (e *Executor) ExecuteWith(ctx context.Context, initial Context, steps []Step) (*Result, error) {
	state := make(Context, len(initial))
	origin := make(map[string]string, len(initial))
	for k, v := range initial {
		state[k] = v
		origin[k] = "vars"
	}
	result := &Result{Context: state}

	for i, step := range steps {
		name := step.Name
		if name == "" {
			name = fmt.Sprintf("step-%d", i+1)
		}
		log := e.logger.With(zap.Int("step", i+1), zap.String("name", name))

		sr, err := e.runStep(ctx, i, name, step, state)
		if sr != nil {
			result.Steps = append(result.Steps, *sr)
		}
		if err != nil {
			log.Error("Chain step failed; aborting chain.", zap.Error(err))
			result.Failed = &StepError{Index: i, Name: name, Err: err}
			return result, result.Failed
		}

		for k, v := range sr.Extracted {
			if prev, exists := origin[k]; exists {
				log.Warn("Chain context key overwritten.",
					zap.String("key", k), zap.String("previous_step", prev))
			}
			state[k] = v
			origin[k] = name
		}
		log.Info("Chain step passed.", zap.Int("status", sr.StatusCode), zap.Duration("duration", sr.Duration))
	}
	return result, nil
}

func (e *Executor) runStep(ctx context.Context, idx int, name string, step Step, state Context) (*StepResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := apiclient.Request{
		Method: step.Method,
		Path:   SubstituteString(step.Endpoint, state),
		Body:   SubstituteBody(step.Body, state),
	}
	if len(step.Headers) > 0 {
		req.Headers = make(map[string]string, len(step.Headers))
		for k, v := range step.Headers {
			req.Headers[k] = SubstituteString(v, state)
		}
	}
	if step.Auth != "" {
		if e.tokens == nil {
			return nil, qaerr.API(qaerr.ErrCodeConfiguration, "chain", "step requires auth but no token source is configured", nil)
		}
		tok, err := e.tokens.ValidToken(ctx, step.Auth)
		if err != nil {
			return nil, err
		}
		req.BearerToken = tok
	}

	resp, err := e.client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	sr := &StepResult{
		Index:      idx,
		Name:       name,
		StatusCode: resp.StatusCode,
		Duration:   resp.Duration,
		Response:   resp,
	}

	if step.Validate != nil {
		if err := step.Validate(resp); err != nil {
			return sr, err
		}
	}
	if step.Extract != nil {
		extracted, err := step.Extract(resp)
		if err != nil {
			return sr, err
		}
		sr.Extracted = extracted
	}
	return sr, nil
}
