package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a tool name does not resolve to a registered,
// enabled tool.
var ErrNotFound = errors.New("not found")

// Status classifies a registered tool's lifecycle state.
type Status string

const (
	StatusActive       Status = "active"
	StatusDeprecated   Status = "deprecated"
	StatusDisabled     Status = "disabled"
	StatusExperimental Status = "experimental"
)

// Spec describes a callable tool and its metadata.
//
// MaxExecutionTime and RetryCount are declarative budgets carried through
// from tool manifests; the dispatch path does not enforce them.
type Spec struct {
	Name        string
	Description string
	Schema      map[string]any

	Category string
	Status   Status

	MaxExecutionTime time.Duration
	RetryCount       int
}

// Tool is an executable capability the model may invoke by name.
type Tool interface {
	Spec() Spec
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// Func adapts a plain function into a Tool.
type Func struct {
	Meta Spec
	Run  func(ctx context.Context, args json.RawMessage) (string, error)
}

func (f *Func) Spec() Spec {
	return f.Meta
}

func (f *Func) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	if f.Run == nil {
		return "", fmt.Errorf("tool %s has no implementation", f.Meta.Name)
	}
	return f.Run(ctx, args)
}
