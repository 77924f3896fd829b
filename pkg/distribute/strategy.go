package distribute

import (
	"slices"
	"strings"

	"github.com/matzehuels/masonry/pkg/errors"
)

// Strategy names a distribution algorithm.
type Strategy string

const (
	LeftToRight Strategy = "left-to-right"
	RightToLeft Strategy = "right-to-left"
	CenterOut   Strategy = "center-out"
	Random      Strategy = "random"
	Balanced    Strategy = "balanced"
)

// DefaultStrategy is used when no strategy is configured.
const DefaultStrategy = LeftToRight

// Strategies lists every supported strategy.
var Strategies = []Strategy{LeftToRight, RightToLeft, CenterOut, Random, Balanced}

// ParseStrategy resolves a strategy name. Matching ignores case and
// separators, so "centerOut", "center_out" and "CENTER-OUT" are equivalent.
// An empty name yields [DefaultStrategy].
func ParseStrategy(name string) (Strategy, error) {
	if strings.TrimSpace(name) == "" {
		return DefaultStrategy, nil
	}
	key := normalize(name)
	for _, s := range Strategies {
		if normalize(string(s)) == key {
			return s, nil
		}
	}
	return "", errors.New(errors.ErrCodeInvalidStrategy, "unknown distribution strategy %q (valid: %s)", name, strings.Join(Names(), ", "))
}

// Names returns the canonical names of all strategies.
func Names() []string {
	names := make([]string, len(Strategies))
	for i, s := range Strategies {
		names[i] = string(s)
	}
	return names
}

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	return slices.Contains(Strategies, s)
}

// Cyclic reports whether s assigns items round-robin over a column order.
func (s Strategy) Cyclic() bool {
	return s != Balanced
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "", "_", "", " ", "").Replace(s)
}
