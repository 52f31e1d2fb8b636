// Package pdf defines the signal time and energy probability densities
// the likelihood and injector share. Variants form a closed set selected
// by a name string; unknown names fail at construction, never at
// evaluation time.
package pdf

import (
	"fmt"
	"math"

	"github.com/banshee-data/flarescan/internal/catalogue"
	"github.com/banshee-data/flarescan/internal/season"
)

// Time PDF variant names.
const (
	TimeSteady      = "steady"
	TimeFixedRefBox = "fixed_ref_box"
	TimeFixedEndBox = "fixed_end_box"
)

// TimeConfig selects and parametrizes a time PDF.
type TimeConfig struct {
	Name string `json:"name"`

	// Box parameters for fixed_ref_box: the signal window is
	// [ref - pre + offset, ref + post + offset] around the source
	// reference time.
	PreWindowDays  float64 `json:"pre_window_days,omitempty"`
	PostWindowDays float64 `json:"post_window_days,omitempty"`
	OffsetDays     float64 `json:"offset_days,omitempty"`

	// Time smearing randomizes OffsetDays uniformly in
	// [MinOffsetDays, MaxOffsetDays] once per handler, for injection only.
	TimeSmear     bool    `json:"time_smear,omitempty"`
	MinOffsetDays float64 `json:"min_offset_days,omitempty"`
	MaxOffsetDays float64 `json:"max_offset_days,omitempty"`

	// MaxFlareDays caps candidate flare windows in flare searches.
	// Zero means the full search window.
	MaxFlareDays float64 `json:"max_flare_days,omitempty"`
}

// Validate checks that the variant name is known and box parameters are
// self-consistent.
func (c *TimeConfig) Validate() error {
	switch c.Name {
	case TimeSteady, TimeFixedEndBox:
	case TimeFixedRefBox:
		if c.PreWindowDays < 0 || c.PostWindowDays < 0 {
			return fmt.Errorf("pdf: fixed_ref_box windows must be non-negative, got pre=%v post=%v", c.PreWindowDays, c.PostWindowDays)
		}
		if c.PreWindowDays == 0 && c.PostWindowDays == 0 {
			return fmt.Errorf("pdf: fixed_ref_box needs a non-empty window")
		}
	case "":
		return fmt.Errorf("pdf: no time PDF specified; use %q for a time-independent likelihood", TimeSteady)
	default:
		return fmt.Errorf("pdf: unknown time PDF %q", c.Name)
	}
	if c.TimeSmear && c.MaxOffsetDays < c.MinOffsetDays {
		return fmt.Errorf("pdf: time smear offsets inverted: [%v, %v]", c.MinOffsetDays, c.MaxOffsetDays)
	}
	return nil
}

// TimePDF models signal and background probability density over time for
// one season. Densities are per day and normalized over their windows.
type TimePDF interface {
	// SignalStart and SignalEnd bound the signal window for a source, MJD.
	SignalStart(src *catalogue.Source) float64
	SignalEnd(src *catalogue.Source) float64

	// SignalDensity is the signal time density at t for a source,
	// normalized over the overlap of the signal window with the season.
	SignalDensity(t float64, src *catalogue.Source) float64

	// BackgroundDensity is the background time density at t, uniform
	// over the season livetime.
	BackgroundDensity(t float64, src *catalogue.Source) float64

	// EffectiveInjectionTime returns the overlap, in seconds, between
	// the window [t0, t1] (MJD) and the season livetime. Zero overlap
	// means the season takes no part in that window's computation.
	EffectiveInjectionTime(t0, t1 float64) float64

	// Season reports the season this PDF is bound to.
	Season() *season.Season
}

// NewTimePDF builds the time PDF variant named by cfg for one season.
func NewTimePDF(cfg TimeConfig, s *season.Season) (TimePDF, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Name {
	case TimeSteady:
		return &SteadyTimePDF{season: s}, nil
	case TimeFixedRefBox:
		return &FixedRefBoxTimePDF{season: s, cfg: cfg}, nil
	case TimeFixedEndBox:
		return &FixedEndBoxTimePDF{season: s}, nil
	}
	return nil, fmt.Errorf("pdf: unknown time PDF %q", cfg.Name)
}

// overlap returns the intersection [lo, hi] of [a0, a1] with [b0, b1];
// lo > hi means no overlap.
func overlap(a0, a1, b0, b1 float64) (float64, float64) {
	return math.Max(a0, b0), math.Min(a1, b1)
}

// SteadyTimePDF is time-independent: the signal window is the whole
// season and both densities are uniform over the livetime.
type SteadyTimePDF struct {
	season *season.Season
}

func (p *SteadyTimePDF) Season() *season.Season { return p.season }

func (p *SteadyTimePDF) SignalStart(*catalogue.Source) float64 { return p.season.TStartMJD }
func (p *SteadyTimePDF) SignalEnd(*catalogue.Source) float64   { return p.season.TEndMJD }

func (p *SteadyTimePDF) SignalDensity(t float64, _ *catalogue.Source) float64 {
	if !p.season.Contains(t) {
		return 0
	}
	return 1 / (p.season.TEndMJD - p.season.TStartMJD)
}

func (p *SteadyTimePDF) BackgroundDensity(t float64, src *catalogue.Source) float64 {
	return p.SignalDensity(t, src)
}

func (p *SteadyTimePDF) EffectiveInjectionTime(t0, t1 float64) float64 {
	lo, hi := overlap(t0, t1, p.season.TStartMJD, p.season.TEndMJD)
	if hi <= lo {
		return 0
	}
	return (hi - lo) * season.SecondsPerDay
}

// FixedRefBoxTimePDF is a box of fixed extent around each source's
// reference time, with an optional overall offset.
type FixedRefBoxTimePDF struct {
	season *season.Season
	cfg    TimeConfig
}

func (p *FixedRefBoxTimePDF) Season() *season.Season { return p.season }

func (p *FixedRefBoxTimePDF) SignalStart(src *catalogue.Source) float64 {
	return src.RefTimeMJD - p.cfg.PreWindowDays + p.cfg.OffsetDays
}

func (p *FixedRefBoxTimePDF) SignalEnd(src *catalogue.Source) float64 {
	return src.RefTimeMJD + p.cfg.PostWindowDays + p.cfg.OffsetDays
}

func (p *FixedRefBoxTimePDF) SignalDensity(t float64, src *catalogue.Source) float64 {
	lo, hi := overlap(p.SignalStart(src), p.SignalEnd(src), p.season.TStartMJD, p.season.TEndMJD)
	if hi <= lo || t < lo || t > hi {
		return 0
	}
	return 1 / (hi - lo)
}

func (p *FixedRefBoxTimePDF) BackgroundDensity(t float64, _ *catalogue.Source) float64 {
	if !p.season.Contains(t) {
		return 0
	}
	return 1 / (p.season.TEndMJD - p.season.TStartMJD)
}

func (p *FixedRefBoxTimePDF) EffectiveInjectionTime(t0, t1 float64) float64 {
	lo, hi := overlap(t0, t1, p.season.TStartMJD, p.season.TEndMJD)
	if hi <= lo {
		return 0
	}
	return (hi - lo) * season.SecondsPerDay
}

// WithOffset returns a copy of the PDF with the offset replaced, used by
// time smearing.
func (p *FixedRefBoxTimePDF) WithOffset(offsetDays float64) *FixedRefBoxTimePDF {
	cfg := p.cfg
	cfg.OffsetDays = offsetDays
	return &FixedRefBoxTimePDF{season: p.season, cfg: cfg}
}

// FixedEndBoxTimePDF is a box bounded by each source's start and end
// times from the catalogue.
type FixedEndBoxTimePDF struct {
	season *season.Season
}

func (p *FixedEndBoxTimePDF) Season() *season.Season { return p.season }

func (p *FixedEndBoxTimePDF) SignalStart(src *catalogue.Source) float64 { return src.StartTimeMJD }
func (p *FixedEndBoxTimePDF) SignalEnd(src *catalogue.Source) float64   { return src.EndTimeMJD }

func (p *FixedEndBoxTimePDF) SignalDensity(t float64, src *catalogue.Source) float64 {
	lo, hi := overlap(src.StartTimeMJD, src.EndTimeMJD, p.season.TStartMJD, p.season.TEndMJD)
	if hi <= lo || t < lo || t > hi {
		return 0
	}
	return 1 / (hi - lo)
}

func (p *FixedEndBoxTimePDF) BackgroundDensity(t float64, _ *catalogue.Source) float64 {
	if !p.season.Contains(t) {
		return 0
	}
	return 1 / (p.season.TEndMJD - p.season.TStartMJD)
}

func (p *FixedEndBoxTimePDF) EffectiveInjectionTime(t0, t1 float64) float64 {
	lo, hi := overlap(t0, t1, p.season.TStartMJD, p.season.TEndMJD)
	if hi <= lo {
		return 0
	}
	return (hi - lo) * season.SecondsPerDay
}

// SourceInjectionTime is the effective injection time of a source's
// signal window: the overlap of its box with the season livetime.
func SourceInjectionTime(p TimePDF, src *catalogue.Source) float64 {
	return p.EffectiveInjectionTime(p.SignalStart(src), p.SignalEnd(src))
}
