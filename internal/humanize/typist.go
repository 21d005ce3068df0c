package humanize

import "time"

// State is the typist's current mode.
type State int

const (
	Typing State = iota
	Erasing
	Done
)

func (s State) String() string {
	switch s {
	case Typing:
		return "typing"
	case Erasing:
		return "erasing"
	default:
		return "done"
	}
}

// Step is one keystroke-level action produced by the Typist.
type Step struct {
	State  State         // the action taken: Typing appended a rune, Erasing removed some
	Rune   rune          // rune appended when State == Typing
	Erased int           // runes removed when State == Erasing
	Delay  time.Duration // how long to wait after this step
}

// Typist replays a text as a sequence of keystrokes, occasionally erasing a
// few runes and retyping them. The buffer always equals a prefix of the text.
//
// A typo may only fire once the buffer holds at least two runes and has grown
// past the longest length it reached before the previous typo, so retyping
// never triggers another typo and the sequence always terminates.
type Typist struct {
	text   []rune
	buf    []rune
	high   int
	policy Policy
	rng    Rand
	state  State
}

// NewTypist prepares a typist for text.
func NewTypist(text string, p Policy, r Rand) *Typist {
	t := &Typist{text: []rune(text), policy: p, rng: r}
	if len(t.text) == 0 {
		t.state = Done
	}
	return t
}

// State reports the mode of the last step, or Done when the text is complete.
func (t *Typist) State() State { return t.state }

// Finished reports whether the whole text has been typed.
func (t *Typist) Finished() bool { return len(t.buf) >= len(t.text) }

// Buffer returns what has been "typed" so far.
func (t *Typist) Buffer() string { return string(t.buf) }

// Next advances one step. ok is false once the whole text has been typed.
func (t *Typist) Next() (step Step, ok bool) {
	if len(t.buf) >= len(t.text) {
		t.state = Done
		return Step{State: Done}, false
	}

	roll := t.rng.Float64()
	if roll < t.policy.ErrorProbability && len(t.buf) >= 2 && len(t.buf) > t.high {
		n := Between(t.rng, 1, max(t.policy.MaxBackspaceChars, 1))
		n = min(n, len(t.buf))
		t.high = len(t.buf)
		t.buf = t.buf[:len(t.buf)-n]
		t.state = Erasing
		return Step{State: Erasing, Erased: n, Delay: Millis(Between(t.rng, 200, 400))}, true
	}

	r := t.text[len(t.buf)]
	t.buf = append(t.buf, r)
	t.state = Typing
	return Step{State: Typing, Rune: r, Delay: t.policy.CharDelay(t.rng)}, true
}
