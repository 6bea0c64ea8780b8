//go:build !cgo

package analyzers

import (
	"context"
	"encoding/json"
	"errors"

	"repolens/internal/stage"
)

// TreeSitterStrategy is a stub on builds without cgo. It reports itself
// unavailable so the stage executor falls through to the next strategy.
type TreeSitterStrategy struct{}

// NewTreeSitterStrategy creates the stub strategy.
func NewTreeSitterStrategy() *TreeSitterStrategy { return &TreeSitterStrategy{} }

// Name implements stage.Strategy.
func (s *TreeSitterStrategy) Name() string { return "treesitter" }

// Available implements stage.Strategy. Always false without cgo.
func (s *TreeSitterStrategy) Available(stage.Input) bool { return false }

// Run implements stage.Strategy.
func (s *TreeSitterStrategy) Run(context.Context, stage.Input) (json.RawMessage, error) {
	return nil, errors.New("tree-sitter requires cgo")
}
