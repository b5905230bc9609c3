package kernel

import (
	"context"
	"fmt"
)

// Lifecycle is optionally implemented by Executors whose transport needs
// explicit startup and shutdown (a sandbox process, a remote connection).
// Executors without it are treated as always ready.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop() error
}

// Unavailable is an Executor for deployments that run without a code
// execution backend: every submission fails with a stable, explanatory
// error. MCP-only agents use this so code-action tool calls degrade to an
// error tool-return instead of a crash.
type Unavailable struct {
	Reason string
}

func (u Unavailable) Execute(ctx context.Context, code string) (<-chan Event, error) {
	return nil, fmt.Errorf("kernel unavailable: %s", u.reason())
}

func (u Unavailable) Reset(ctx context.Context) error {
	return fmt.Errorf("kernel unavailable: %s", u.reason())
}

func (u Unavailable) reason() string {
	if u.Reason == "" {
		return "no kernel transport configured"
	}
	return u.Reason
}
