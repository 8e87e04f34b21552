package riftlands

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
)

const (
	// diceMaxCount caps the number of dice in one roll, so a typo'd
	// notation can't allocate a silly slice
	diceMaxCount = 100

	diceMaxSides = 1000
)

var (
	ErrInvalidDiceNotation = errors.New("invalid dice notation")

	diceNotationPattern = regexp.MustCompile(
		`^(\d*)[dD](\d+)\s*([+-]\s*\d+)?$`,
	)
)

// RollResult is the outcome of rolling a dice expression like "2d6+3".
type RollResult struct {
	Notation string `json:"notation"`
	Rolls    []int  `json:"rolls"`
	Modifier int    `json:"modifier"`
	Total    int    `json:"total"`
}

func (r RollResult) String() string {
	rolls := make([]string, len(r.Rolls))
	for i, roll := range r.Rolls {
		rolls[i] = strconv.Itoa(roll)
	}
	if r.Modifier == 0 {
		return fmt.Sprintf("%s: [%s] = %d", r.Notation, strings.Join(rolls, " "), r.Total)
	}
	return fmt.Sprintf(
		"%s: [%s] %+d = %d",
		r.Notation,
		strings.Join(rolls, " "),
		r.Modifier,
		r.Total,
	)
}

// Roll parses and rolls standard dice notation ("d20", "2d6+3", "4d8-1").
func Roll(notation string) (RollResult, error) {
	count, sides, modifier, err := parseDiceNotation(notation)
	if err != nil {
		return RollResult{}, err
	}

	result := RollResult{
		Notation: strings.ToLower(strings.ReplaceAll(notation, " ", "")),
		Rolls:    make([]int, count),
		Modifier: modifier,
		Total:    modifier,
	}
	for i := 0; i < count; i++ {
		roll := rand.IntN(sides) + 1
		result.Rolls[i] = roll
		result.Total += roll
	}
	return result, nil
}

func parseDiceNotation(notation string) (count int, sides int, modifier int, err error) {
	m := diceNotationPattern.FindStringSubmatch(strings.TrimSpace(notation))
	if m == nil {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidDiceNotation, notation)
	}

	count = 1
	if m[1] != "" {
		count, err = strconv.Atoi(m[1])
		if err != nil || count < 1 || count > diceMaxCount {
			return 0, 0, 0, fmt.Errorf(
				"%w: %q (dice count must be 1-%d)",
				ErrInvalidDiceNotation, notation, diceMaxCount,
			)
		}
	}

	sides, err = strconv.Atoi(m[2])
	if err != nil || sides < 2 || sides > diceMaxSides {
		return 0, 0, 0, fmt.Errorf(
			"%w: %q (sides must be 2-%d)",
			ErrInvalidDiceNotation, notation, diceMaxSides,
		)
	}

	if m[3] != "" {
		modifier, err = strconv.Atoi(strings.ReplaceAll(m[3], " ", ""))
		if err != nil {
			return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidDiceNotation, notation)
		}
	}

	return count, sides, modifier, nil
}

// AttackRoll is the to-hit and damage pair used by the /attack command.
type AttackRoll struct {
	Target string     `json:"target"`
	ToHit  RollResult `json:"to_hit"`
	Damage RollResult `json:"damage"`
}

// Critical reports whether the to-hit die came up a natural 20.
func (a AttackRoll) Critical() bool {
	return len(a.ToHit.Rolls) == 1 && a.ToHit.Rolls[0] == 20
}

// Fumble reports whether the to-hit die came up a natural 1.
func (a AttackRoll) Fumble() bool {
	return len(a.ToHit.Rolls) == 1 && a.ToHit.Rolls[0] == 1
}

// NewAttackRoll rolls a d20 to hit and 1d8 damage against the named target.
func NewAttackRoll(target string) AttackRoll {
	toHit, _ := Roll("d20")
	damage, _ := Roll("1d8")
	if toHit.Rolls[0] == 20 {
		// crits double the damage dice
		bonus, _ := Roll("1d8")
		damage.Rolls = append(damage.Rolls, bonus.Rolls...)
		damage.Total += bonus.Total
		damage.Notation = "2d8"
	}
	return AttackRoll{Target: target, ToHit: toHit, Damage: damage}
}
