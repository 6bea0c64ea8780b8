package analyzers

import (
	"fmt"

	"repolens/internal/stage"
)

// Options carries construction parameters for strategies that need them.
type Options struct {
	// SCIPIndexPath locates a pre-built SCIP index inside a repository
	// checkout, relative to its root.
	SCIPIndexPath string
}

// BuildStrategies resolves configured strategy names into instances, in
// the configured order. Unknown names are a configuration error.
func BuildStrategies(names []string, opts Options) ([]stage.Strategy, error) {
	strategies := make([]stage.Strategy, 0, len(names))
	for _, name := range names {
		s, err := buildStrategy(name, opts)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, s)
	}
	return strategies, nil
}

func buildStrategy(name string, opts Options) (stage.Strategy, error) {
	switch name {
	case "treesitter":
		return NewTreeSitterStrategy(), nil
	case "textscan":
		return NewTextScanStrategy(), nil
	case "scip":
		return NewSCIPStrategy(opts.SCIPIndexPath), nil
	case "manifest":
		return NewManifestStrategy(), nil
	case "extension":
		return NewExtensionStrategy(), nil
	default:
		return nil, fmt.Errorf("unknown analysis strategy %q", name)
	}
}
