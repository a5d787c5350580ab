// Package dice parses dice notation and performs local rolls.
//
// Local rolls are the degraded path used when the server cannot roll: their
// results are tagged so an audit trail can tell them apart from
// server-confirmed rolls.
package dice

import (
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"

	"github.com/gaspardpetit/questlink/internal/wire"
)

// ErrInvalidNotation indicates dice notation that cannot be parsed.
var ErrInvalidNotation = errors.New("invalid dice notation")

// ErrInvalidSpec indicates a roll with no dice or dice without sides.
var ErrInvalidSpec = errors.New("dice must have positive sides and count")

// MaxCount caps the number of dice in one roll.
const MaxCount = 100

var notationRE = regexp.MustCompile(`^(\d*)d(\d+)\s*(?:([+-])\s*(\d+))?$`)

// Notation is a parsed "NdS+M" expression.
type Notation struct {
	Count    int
	Sides    int
	Modifier int
}

// String renders the notation, e.g. "2d6+3".
func (n Notation) String() string {
	s := fmt.Sprintf("%dd%d", n.Count, n.Sides)
	switch {
	case n.Modifier > 0:
		s += fmt.Sprintf("+%d", n.Modifier)
	case n.Modifier < 0:
		s += fmt.Sprintf("%d", n.Modifier)
	}
	return s
}

// DiceType renders the die kind without count or modifier, e.g. "d20".
func (n Notation) DiceType() string {
	return fmt.Sprintf("d%d", n.Sides)
}

// Parse reads expressions such as "d20", "1d20+3", "2d6 - 1" or "D8".
func Parse(expr string) (Notation, error) {
	m := notationRE.FindStringSubmatch(strings.ToLower(strings.TrimSpace(expr)))
	if m == nil {
		return Notation{}, fmt.Errorf("%w: %q", ErrInvalidNotation, expr)
	}
	n := Notation{Count: 1}
	if m[1] != "" {
		n.Count, _ = strconv.Atoi(m[1])
	}
	n.Sides, _ = strconv.Atoi(m[2])
	if m[4] != "" {
		mod, _ := strconv.Atoi(m[4])
		if m[3] == "-" {
			mod = -mod
		}
		n.Modifier = mod
	}
	if err := n.validate(); err != nil {
		return Notation{}, err
	}
	return n, nil
}

func (n Notation) validate() error {
	if n.Count <= 0 || n.Sides <= 0 || n.Count > MaxCount {
		return ErrInvalidSpec
	}
	return nil
}

// Spec describes a freeform roll request.
type Spec struct {
	DiceType     string `json:"dice_type"`
	Count        int    `json:"count"`
	Modifier     int    `json:"modifier"`
	Advantage    bool   `json:"advantage,omitempty"`
	Disadvantage bool   `json:"disadvantage,omitempty"`
}

// Notation converts s into a notation. DiceType may be "d20" or a
// full expression such as "2d6"; an explicit Count overrides the expression.
func (s Spec) Notation() (Notation, error) {
	n, err := Parse(s.DiceType)
	if err != nil {
		return Notation{}, err
	}
	if s.Count > 0 {
		n.Count = s.Count
	}
	n.Modifier += s.Modifier
	if err := n.validate(); err != nil {
		return Notation{}, err
	}
	return n, nil
}

// SpecFor builds the roll that satisfies a dice requirement.
func SpecFor(req wire.DiceRequirement) (Spec, error) {
	n, err := Parse(req.Expression)
	if err != nil {
		return Spec{}, err
	}
	return Spec{
		DiceType:     n.DiceType(),
		Count:        n.Count,
		Modifier:     n.Modifier + req.AbilityModifier,
		Advantage:    req.Advantage,
		Disadvantage: req.Disadvantage,
	}, nil
}

// Total sums rolls and adds the modifier.
func Total(rolls []int, modifier int) int {
	t := modifier
	for _, r := range rolls {
		t += r
	}
	return t
}

// Roll rolls spec with rng. With advantage or disadvantage on a single die,
// two dice are rolled, the higher or lower is kept and the other goes to
// Discarded. Advantage on several dice, or advantage with disadvantage,
// rolls plainly and the result carries neither flag.
func Roll(rng *rand.Rand, spec Spec) (wire.DiceResult, error) {
	n, err := spec.Notation()
	if err != nil {
		return wire.DiceResult{}, err
	}
	res := wire.DiceResult{
		DiceType: n.DiceType(),
		Rolls:    make([]int, n.Count),
		Modifier: n.Modifier,
		Source:   wire.SourceClient,
	}
	for i := range res.Rolls {
		res.Rolls[i] = rollDie(rng, n.Sides)
	}
	if n.Count == 1 && spec.Advantage != spec.Disadvantage {
		other := rollDie(rng, n.Sides)
		if (spec.Advantage && other > res.Rolls[0]) || (spec.Disadvantage && other < res.Rolls[0]) {
			res.Rolls[0], other = other, res.Rolls[0]
		}
		res.Discarded = []int{other}
		res.Advantage = spec.Advantage
		res.Disadvantage = spec.Disadvantage
	}
	res.Total = Total(res.Rolls, res.Modifier)
	return res, nil
}

// RollSeeded rolls spec with a freshly seeded generator.
func RollSeeded(spec Spec) (wire.DiceResult, error) {
	seed, err := NewSeed()
	if err != nil {
		return wire.DiceResult{}, err
	}
	return Roll(rand.New(rand.NewSource(seed)), spec)
}

// RollLocal is RollSeeded with the result tagged as a client-side fallback.
func RollLocal(spec Spec) (wire.DiceResult, error) {
	res, err := RollSeeded(spec)
	if err != nil {
		return wire.DiceResult{}, err
	}
	res.Source = wire.SourceClientFallback
	return res, nil
}

// NewSeed generates a random seed using crypto/rand.
func NewSeed() (int64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

// Describe renders a one-line summary such as "d20: [14] +3 = 17".
func Describe(r wire.DiceResult) string {
	parts := make([]string, len(r.Rolls))
	for i, v := range r.Rolls {
		parts[i] = strconv.Itoa(v)
	}
	s := fmt.Sprintf("%s: [%s]", r.DiceType, strings.Join(parts, ", "))
	switch {
	case r.Modifier > 0:
		s += fmt.Sprintf(" +%d", r.Modifier)
	case r.Modifier < 0:
		s += fmt.Sprintf(" %d", r.Modifier)
	}
	s += fmt.Sprintf(" = %d", r.Total)
	mode := ""
	if r.Advantage && !r.Disadvantage {
		mode = "advantage"
	} else if r.Disadvantage && !r.Advantage {
		mode = "disadvantage"
	}
	if mode != "" && len(r.Discarded) > 0 {
		s += fmt.Sprintf(" (%s, dropped %d)", mode, r.Discarded[0])
	} else if mode != "" {
		s += " (" + mode + ")"
	}
	return s
}

func rollDie(rng *rand.Rand, sides int) int {
	return rng.Intn(sides) + 1
}
