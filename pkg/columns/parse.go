package columns

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/matzehuels/masonry/pkg/errors"
)

// ParseSpec parses a column spec from its textual form.
//
// Accepted forms are a single integer ("3") or a comma-separated list of
// tier=count pairs ("base=1,sm=2,md=3,xl=4"). Invalid pairs are dropped and
// reported in the returned error, which carries [errors.ErrCodeInvalidConfig].
// The returned Spec is always usable, even when the error is non-nil.
func ParseSpec(s string) (Spec, error) {
	spec, problems := parseRaw(s)
	if err := spec.Validate(); err != nil {
		problems = append(problems, errors.UserMessage(err))
	}
	spec = spec.Sanitized()
	if len(problems) > 0 {
		return spec, errors.New(errors.ErrCodeInvalidConfig, "column spec %q: %s", s, strings.Join(problems, "; "))
	}
	return spec, nil
}

// parseRaw splits s without validating tiers or counts. Syntax problems
// are returned separately; the spec keeps unknown tiers and non-positive
// counts so that Validate can report them.
func parseRaw(s string) (Spec, []string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Spec{}, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n == 0 {
			return Spec{}, []string{"fixed column count must be positive, got 0"}
		}
		return Fixed(n), nil
	}

	bp := Breakpoints{}
	var problems []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			problems = append(problems, fmt.Sprintf("%q is not tier=count", part))
			continue
		}
		tier := Tier(strings.ToLower(strings.TrimSpace(key)))
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			problems = append(problems, fmt.Sprintf("tier %q: count %q is not an integer", tier, val))
			continue
		}
		bp[tier] = n
	}
	return Responsive(bp), problems
}

// Sanitized returns s without unknown tiers or non-positive counts. A
// negative fixed count becomes the zero Spec.
func (s Spec) Sanitized() Spec {
	if s.Fixed > 0 {
		return Fixed(s.Fixed)
	}
	if s.Breakpoints == nil {
		return Spec{}
	}
	return Responsive(s.Breakpoints.sanitized())
}

// Validate reports unknown tiers and non-positive counts.
// A zero Spec is valid and means "use the default".
func (s Spec) Validate() error {
	if s.Fixed < 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "fixed column count must be positive, got %d", s.Fixed)
	}
	if s.Fixed > 0 {
		return nil
	}
	var problems []string
	for _, t := range s.Breakpoints.sortedKeys() {
		n := s.Breakpoints[t]
		switch {
		case !t.Known():
			problems = append(problems, fmt.Sprintf("unknown tier %q", t))
		case n <= 0:
			problems = append(problems, fmt.Sprintf("tier %q: count must be positive, got %d", t, n))
		}
	}
	if len(problems) > 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "%s", strings.Join(problems, "; "))
	}
	return nil
}

// String renders s in the form accepted by [ParseSpec].
func (s Spec) String() string {
	if s.Fixed > 0 {
		return strconv.Itoa(s.Fixed)
	}
	parts := make([]string, 0, len(s.Breakpoints))
	for _, t := range s.Breakpoints.sortedKeys() {
		parts = append(parts, fmt.Sprintf("%s=%d", t, s.Breakpoints[t]))
	}
	return strings.Join(parts, ",")
}

// sanitized returns a copy without unknown tiers or non-positive counts.
func (bp Breakpoints) sanitized() Breakpoints {
	out := make(Breakpoints, len(bp))
	for t, n := range bp {
		if t.Known() && n > 0 {
			out[t] = n
		}
	}
	return out
}

// sortedKeys returns known tiers in threshold order followed by unknown
// tiers in lexical order.
func (bp Breakpoints) sortedKeys() []Tier {
	keys := make([]Tier, 0, len(bp))
	for t := range bp {
		keys = append(keys, t)
	}
	slices.SortFunc(keys, func(a, b Tier) int {
		ai, bi := slices.Index(Tiers, a), slices.Index(Tiers, b)
		switch {
		case ai >= 0 && bi >= 0:
			return ai - bi
		case ai >= 0:
			return -1
		case bi >= 0:
			return 1
		}
		return strings.Compare(string(a), string(b))
	})
	return keys
}

// UnmarshalTOML accepts an integer or a table of tier counts.
func (s *Spec) UnmarshalTOML(v any) error {
	switch val := v.(type) {
	case int64:
		*s = Fixed(int(val))
		return nil
	case string:
		spec, problems := parseRaw(val)
		if len(problems) > 0 {
			return errors.New(errors.ErrCodeInvalidConfig, "column spec %q: %s", val, strings.Join(problems, "; "))
		}
		*s = spec
		return nil
	case map[string]any:
		bp := make(Breakpoints, len(val))
		for k, raw := range val {
			n, ok := raw.(int64)
			if !ok {
				return errors.New(errors.ErrCodeInvalidConfig, "tier %q: count must be an integer", k)
			}
			bp[Tier(strings.ToLower(k))] = int(n)
		}
		*s = Responsive(bp)
		return nil
	default:
		return errors.New(errors.ErrCodeInvalidConfig, "columns must be an integer or a table, got %T", v)
	}
}

// UnmarshalJSON accepts a number, a string in [ParseSpec] form, or an object.
func (s *Spec) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*s = Fixed(n)
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		spec, err := ParseSpec(str)
		*s = spec
		return err
	}
	var bp Breakpoints
	if err := json.Unmarshal(data, &bp); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, err, "columns must be a number or an object")
	}
	*s = Responsive(bp)
	return nil
}

// MarshalJSON encodes a fixed spec as a number and a responsive one as an object.
func (s Spec) MarshalJSON() ([]byte, error) {
	if s.Fixed > 0 {
		return json.Marshal(s.Fixed)
	}
	return json.Marshal(s.Breakpoints)
}
