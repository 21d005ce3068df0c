// Package humanize computes the randomized timings used to make outbound
// text messages look like they were typed by a person.
package humanize

import (
	"errors"
	"fmt"
	"time"
)

// Policy is a fully resolved timing configuration. Delays are milliseconds.
type Policy struct {
	Enabled             bool    `json:"enabled"`
	MinReadDelay        int     `json:"min_read_delay"`
	MaxReadDelay        int     `json:"max_read_delay"`
	MinThinkDelay       int     `json:"min_think_delay"`
	MaxThinkDelay       int     `json:"max_think_delay"`
	MinCharDelay        int     `json:"min_char_delay"`
	MaxCharDelay        int     `json:"max_char_delay"`
	ErrorProbability    float64 `json:"error_probability"`
	MaxBackspaceChars   int     `json:"max_backspace_chars"`
	MinPauseAfterTyping int     `json:"min_pause_after_typing"`
	MaxPauseAfterTyping int     `json:"max_pause_after_typing"`
}

// Override carries a tenant's optional settings. A nil field means
// "use the system default".
type Override struct {
	Enabled             *bool    `json:"enabled,omitempty"`
	MinReadDelay        *int     `json:"min_read_delay,omitempty"`
	MaxReadDelay        *int     `json:"max_read_delay,omitempty"`
	MinThinkDelay       *int     `json:"min_think_delay,omitempty"`
	MaxThinkDelay       *int     `json:"max_think_delay,omitempty"`
	MinCharDelay        *int     `json:"min_char_delay,omitempty"`
	MaxCharDelay        *int     `json:"max_char_delay,omitempty"`
	ErrorProbability    *float64 `json:"error_probability,omitempty"`
	MaxBackspaceChars   *int     `json:"max_backspace_chars,omitempty"`
	MinPauseAfterTyping *int     `json:"min_pause_after_typing,omitempty"`
	MaxPauseAfterTyping *int     `json:"max_pause_after_typing,omitempty"`
}

// Defaults returns the built-in system policy.
func Defaults() Policy {
	return Policy{
		Enabled:             true,
		MinReadDelay:        10000,
		MaxReadDelay:        15000,
		MinThinkDelay:       1500,
		MaxThinkDelay:       5000,
		MinCharDelay:        90,
		MaxCharDelay:        250,
		ErrorProbability:    0.10,
		MaxBackspaceChars:   3,
		MinPauseAfterTyping: 700,
		MaxPauseAfterTyping: 2200,
	}
}

// Resolve merges o over d field by field. Range validation (min <= max) is
// the caller's job.
func Resolve(o Override, d Policy) Policy {
	p := d
	pick(&p.Enabled, o.Enabled)
	pick(&p.MinReadDelay, o.MinReadDelay)
	pick(&p.MaxReadDelay, o.MaxReadDelay)
	pick(&p.MinThinkDelay, o.MinThinkDelay)
	pick(&p.MaxThinkDelay, o.MaxThinkDelay)
	pick(&p.MinCharDelay, o.MinCharDelay)
	pick(&p.MaxCharDelay, o.MaxCharDelay)
	pick(&p.ErrorProbability, o.ErrorProbability)
	pick(&p.MaxBackspaceChars, o.MaxBackspaceChars)
	pick(&p.MinPauseAfterTyping, o.MinPauseAfterTyping)
	pick(&p.MaxPauseAfterTyping, o.MaxPauseAfterTyping)
	return p
}

func pick[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Merge returns o with every non-nil field of patch applied.
func (o Override) Merge(patch Override) Override {
	pickPtr(&o.Enabled, patch.Enabled)
	pickPtr(&o.MinReadDelay, patch.MinReadDelay)
	pickPtr(&o.MaxReadDelay, patch.MaxReadDelay)
	pickPtr(&o.MinThinkDelay, patch.MinThinkDelay)
	pickPtr(&o.MaxThinkDelay, patch.MaxThinkDelay)
	pickPtr(&o.MinCharDelay, patch.MinCharDelay)
	pickPtr(&o.MaxCharDelay, patch.MaxCharDelay)
	pickPtr(&o.ErrorProbability, patch.ErrorProbability)
	pickPtr(&o.MaxBackspaceChars, patch.MaxBackspaceChars)
	pickPtr(&o.MinPauseAfterTyping, patch.MinPauseAfterTyping)
	pickPtr(&o.MaxPauseAfterTyping, patch.MaxPauseAfterTyping)
	return o
}

func pickPtr[T any](dst **T, v *T) {
	if v != nil {
		*dst = v
	}
}

var ErrInvalidPolicy = errors.New("invalid humanization policy")

// Validate checks that every range is ordered and non-negative and that
// the error probability lies in [0, 1].
func (p Policy) Validate() error {
	ranges := [][2]int{
		{p.MinReadDelay, p.MaxReadDelay},
		{p.MinThinkDelay, p.MaxThinkDelay},
		{p.MinCharDelay, p.MaxCharDelay},
		{p.MinPauseAfterTyping, p.MaxPauseAfterTyping},
	}
	for _, r := range ranges {
		if r[0] < 0 || r[0] > r[1] {
			return fmt.Errorf("%w: min values cannot be greater than max values", ErrInvalidPolicy)
		}
	}
	if p.ErrorProbability < 0 || p.ErrorProbability > 1 {
		return fmt.Errorf("%w: error probability must be between 0 and 1", ErrInvalidPolicy)
	}
	if p.MaxBackspaceChars < 0 {
		return fmt.Errorf("%w: max backspace chars must not be negative", ErrInvalidPolicy)
	}
	return nil
}

// CharDelay draws the delay after one typed character.
func (p Policy) CharDelay(r Rand) time.Duration {
	return Millis(Between(r, p.MinCharDelay, p.MaxCharDelay))
}

// PauseAfterTyping draws the pause between the last keystroke and the send.
func (p Policy) PauseAfterTyping(r Rand) time.Duration {
	return Millis(Between(r, p.MinPauseAfterTyping, p.MaxPauseAfterTyping))
}

// Millis converts a millisecond count to a Duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
