// Package mock provides a recording test double for [backend.Client].
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/proctor/internal/backend"
)

// Client is a configurable [backend.Client] that records every call.
//
// Zero value: every call succeeds and StartSession returns "mock-session".
type Client struct {
	mu sync.Mutex

	// StartResult, when non-nil, is returned by StartSession.
	StartResult *backend.SessionResult

	// EndResult, when non-nil, is returned by EndSession.
	EndResult *backend.Result

	// FlagResult, when non-nil, is returned by CreateFlag.
	FlagResult *backend.Result

	// StartHook runs inside StartSession before the result is returned. Tests
	// use it to block or to observe ordering.
	StartHook func(ctx context.Context)

	startCalls []backend.SessionRequest
	endCalls   []backend.EndSessionRequest
	flagCalls  []backend.FlagRequest
}

var _ backend.Client = (*Client)(nil)

// StartSession implements [backend.Client].
func (c *Client) StartSession(ctx context.Context, req backend.SessionRequest) backend.SessionResult {
	c.mu.Lock()
	c.startCalls = append(c.startCalls, req)
	hook := c.StartHook
	res := backend.SessionResult{Result: backend.Succeeded(), SessionID: "mock-session"}
	if c.StartResult != nil {
		res = *c.StartResult
	}
	c.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}
	return res
}

// EndSession implements [backend.Client].
func (c *Client) EndSession(_ context.Context, req backend.EndSessionRequest) backend.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endCalls = append(c.endCalls, req)
	if c.EndResult != nil {
		return *c.EndResult
	}
	return backend.Succeeded()
}

// CreateFlag implements [backend.Client].
func (c *Client) CreateFlag(_ context.Context, req backend.FlagRequest) backend.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flagCalls = append(c.flagCalls, req)
	if c.FlagResult != nil {
		return *c.FlagResult
	}
	return backend.Succeeded()
}

// StartCalls returns a copy of the recorded StartSession requests.
func (c *Client) StartCalls() []backend.SessionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]backend.SessionRequest(nil), c.startCalls...)
}

// EndCalls returns a copy of the recorded EndSession requests.
func (c *Client) EndCalls() []backend.EndSessionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]backend.EndSessionRequest(nil), c.endCalls...)
}

// FlagCalls returns a copy of the recorded CreateFlag requests.
func (c *Client) FlagCalls() []backend.FlagRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]backend.FlagRequest(nil), c.flagCalls...)
}

// Failed is a convenience for building failing results in tests.
func Failed(reason string) *backend.Result {
	r := backend.Failed("%s", reason)
	return &r
}
