package columns

import (
	"math"
	"slices"
)

// Tier names a responsive breakpoint.
type Tier string

// Breakpoint tiers in ascending threshold order.
const (
	TierBase Tier = "base"
	TierSM   Tier = "sm"
	TierMD   Tier = "md"
	TierLG   Tier = "lg"
	TierXL   Tier = "xl"
	Tier2XL  Tier = "2xl"
)

// Tiers lists every known tier from smallest to largest threshold.
var Tiers = []Tier{TierBase, TierSM, TierMD, TierLG, TierXL, Tier2XL}

var thresholds = map[Tier]float64{
	TierBase: 0,
	TierSM:   640,
	TierMD:   768,
	TierLG:   1024,
	TierXL:   1280,
	Tier2XL:  1536,
}

// Threshold returns the minimum container width at which t applies.
// The second result is false for unknown tiers.
func (t Tier) Threshold() (float64, bool) {
	v, ok := thresholds[t]
	return v, ok
}

// Known reports whether t is one of [Tiers].
func (t Tier) Known() bool {
	_, ok := thresholds[t]
	return ok
}

// Breakpoints maps tiers to column counts. Tiers may be omitted; the
// planner falls back to the next smaller defined tier.
type Breakpoints map[Tier]int

// Spec is either a fixed column count or a breakpoint map.
// A positive Fixed takes precedence over Breakpoints.
type Spec struct {
	Fixed       int
	Breakpoints Breakpoints
}

// Fixed returns a Spec that always yields n columns.
func Fixed(n int) Spec { return Spec{Fixed: n} }

// Responsive returns a Spec driven by the given breakpoints.
func Responsive(bp Breakpoints) Spec { return Spec{Breakpoints: bp} }

// DefaultSpec is the responsive spec used when none is configured.
func DefaultSpec() Spec {
	return Responsive(Breakpoints{TierBase: 1, TierSM: 2, TierMD: 3, TierLG: 4})
}

// IsZero reports whether s defines neither a fixed count nor any breakpoint.
func (s Spec) IsZero() bool {
	return s.Fixed <= 0 && len(s.Breakpoints) == 0
}

// Options controls how the container width is interpreted.
type Options struct {
	// MinColumnWidth switches to min-width mode when positive.
	MinColumnWidth float64

	// MaxColumns caps the result. Zero or negative means no cap.
	MaxColumns int

	// GapX is the horizontal gap between columns (min-width mode only).
	GapX float64

	PaddingLeft  float64
	PaddingRight float64
}

// Plan returns the number of columns to render for containerWidth.
// The result is always at least 1 and never exceeds opts.MaxColumns when
// that is positive.
func Plan(containerWidth float64, spec Spec, opts Options) int {
	if opts.MinColumnWidth > 0 {
		return clamp(planMinWidth(containerWidth, opts), opts.MaxColumns)
	}
	if spec.Fixed > 0 {
		return clamp(spec.Fixed, opts.MaxColumns)
	}
	return clamp(spec.Breakpoints.Resolve(containerWidth), opts.MaxColumns)
}

func planMinWidth(width float64, opts Options) int {
	available := width - opts.PaddingLeft - opts.PaddingRight
	step := opts.MinColumnWidth + max(opts.GapX, 0)
	if math.IsNaN(available) || available <= 0 || step <= 0 {
		return 1
	}
	n := math.Floor(available / step)
	if math.IsInf(n, 1) || n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(n)
}

// Resolve returns the column count for width using the downward fallback
// chain. Entries with non-positive counts are treated as undefined.
// Resolve returns 1 when no applicable tier is defined.
func (bp Breakpoints) Resolve(width float64) int {
	start := SelectTier(width)
	idx := slices.Index(Tiers, start)
	for i := idx; i >= 0; i-- {
		if n := bp[Tiers[i]]; n > 0 {
			return n
		}
	}
	return 1
}

// SelectTier returns the tier whose threshold is the largest one not
// exceeding width. Unmeasured or invalid widths select [TierBase].
func SelectTier(width float64) Tier {
	if math.IsNaN(width) || width <= 0 {
		return TierBase
	}
	selected := TierBase
	for _, t := range Tiers {
		if thresholds[t] <= width {
			selected = t
		}
	}
	return selected
}

func clamp(n, maxColumns int) int {
	if n < 1 {
		n = 1
	}
	if maxColumns > 0 && n > maxColumns {
		n = maxColumns
	}
	return n
}
