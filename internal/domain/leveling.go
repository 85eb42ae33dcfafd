package domain

import (
	"fmt"
	"math"
)

// LevelFormula selects how XP maps to a level.
type LevelFormula string

const (
	// FormulaDirect is level = floor(xp), starting at level 0.
	FormulaDirect LevelFormula = "direct"
	// FormulaBanded is level = floor(xp/100) + 1, starting at level 1.
	FormulaBanded LevelFormula = "banded"
)

// DefaultXPPerPost is granted for each question or answer posted.
const DefaultXPPerPost = 1.0

// Policy is the process-wide leveling configuration.
type Policy struct {
	Formula   LevelFormula
	XPPerPost float64
}

// DefaultPolicy is the direct formula with a grant of one XP per post.
var DefaultPolicy = Policy{Formula: FormulaDirect, XPPerPost: DefaultXPPerPost}

// ParsePolicy builds a policy from configuration values. Empty values fall
// back to DefaultPolicy.
func ParsePolicy(formula string, xpPerPost float64) (Policy, error) {
	p := DefaultPolicy
	switch LevelFormula(formula) {
	case "":
	case FormulaDirect, FormulaBanded:
		p.Formula = LevelFormula(formula)
	default:
		return Policy{}, fmt.Errorf("unknown leveling formula %q", formula)
	}
	if xpPerPost < 0 {
		return Policy{}, fmt.Errorf("xpPerPost must not be negative")
	}
	if xpPerPost > 0 {
		p.XPPerPost = xpPerPost
	}
	return p, nil
}

// MaxLevel caps derived levels so they always fit an int.
const MaxLevel = math.MaxInt32

// Level derives the level for xp. Negative xp is treated as zero and the
// result never exceeds MaxLevel.
func (p Policy) Level(xp float64) int {
	if xp < 0 || math.IsNaN(xp) {
		xp = 0
	}
	level := math.Floor(xp)
	if p.Formula == FormulaBanded {
		level = math.Floor(xp/100) + 1
	}
	if level >= MaxLevel {
		return MaxLevel
	}
	return int(level)
}

// AvatarStage maps a level to its visual tier.
func AvatarStage(level int) int {
	switch {
	case level >= 12:
		return 3
	case level >= 7:
		return 2
	case level >= 3:
		return 1
	default:
		return 0
	}
}

// Apply clamps xp at zero and returns the profile derived from it.
func (p Policy) Apply(userID string, xp float64) Profile {
	if xp < 0 || math.IsNaN(xp) {
		xp = 0
	}
	if math.IsInf(xp, 1) {
		xp = math.MaxFloat64
	}
	level := p.Level(xp)
	return Profile{
		UserID:      userID,
		XP:          xp,
		Level:       level,
		AvatarStage: AvatarStage(level),
	}
}
