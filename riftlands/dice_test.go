package riftlands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoll(t *testing.T) {
	t.Parallel()

	tests := []struct {
		notation string
		count    int
		minTotal int
		maxTotal int
		modifier int
	}{
		{notation: "d20", count: 1, minTotal: 1, maxTotal: 20},
		{notation: "D20", count: 1, minTotal: 1, maxTotal: 20},
		{notation: "2d6", count: 2, minTotal: 2, maxTotal: 12},
		{notation: "2d6+3", count: 2, minTotal: 5, maxTotal: 15, modifier: 3},
		{notation: "4d8-1", count: 4, minTotal: 3, maxTotal: 31, modifier: -1},
		{notation: " 1d4 + 2 ", count: 1, minTotal: 3, maxTotal: 6, modifier: 2},
	}
	for _, tc := range tests {
		t.Run(
			tc.notation, func(t *testing.T) {
				t.Parallel()

				// exercise the full range a few times over
				for i := 0; i < 50; i++ {
					result, err := Roll(tc.notation)
					require.NoError(t, err)

					assert.Len(t, result.Rolls, tc.count)
					assert.Equal(t, tc.modifier, result.Modifier)
					assert.GreaterOrEqual(t, result.Total, tc.minTotal)
					assert.LessOrEqual(t, result.Total, tc.maxTotal)

					sum := tc.modifier
					for _, roll := range result.Rolls {
						sum += roll
					}
					assert.Equal(t, sum, result.Total)
				}
			},
		)
	}
}

func TestRollInvalidNotation(t *testing.T) {
	t.Parallel()

	for _, notation := range []string{
		"",
		"banana",
		"d",
		"2d",
		"d0",
		"d1",
		"0d6",
		"101d6",
		"2d1001",
		"2d6+",
		"2x6",
	} {
		t.Run(
			notation, func(t *testing.T) {
				t.Parallel()
				_, err := Roll(notation)
				assert.ErrorIs(t, err, ErrInvalidDiceNotation)
			},
		)
	}
}

func TestRollResultString(t *testing.T) {
	t.Parallel()

	result := RollResult{
		Notation: "2d6+3",
		Rolls:    []int{4, 2},
		Modifier: 3,
		Total:    9,
	}
	assert.Equal(t, "2d6+3: [4 2] +3 = 9", result.String())

	noMod := RollResult{
		Notation: "d20",
		Rolls:    []int{17},
		Total:    17,
	}
	assert.Equal(t, "d20: [17] = 17", noMod.String())
}

func TestNewAttackRoll(t *testing.T) {
	t.Parallel()

	sawCrit := false
	for i := 0; i < 500; i++ {
		attack := NewAttackRoll("frost wraith")

		assert.Equal(t, "frost wraith", attack.Target)
		require.Len(t, attack.ToHit.Rolls, 1)
		assert.GreaterOrEqual(t, attack.ToHit.Rolls[0], 1)
		assert.LessOrEqual(t, attack.ToHit.Rolls[0], 20)

		if attack.Critical() {
			sawCrit = true
			assert.Equal(t, 20, attack.ToHit.Rolls[0])
			assert.Len(t, attack.Damage.Rolls, 2)
			assert.Equal(t, "2d8", attack.Damage.Notation)
		} else {
			assert.Len(t, attack.Damage.Rolls, 1)
		}
		if attack.Fumble() {
			assert.Equal(t, 1, attack.ToHit.Rolls[0])
		}
	}
	// 500 d20 rolls without a natural 20 is a 7-in-a-trillion event
	assert.True(t, sawCrit, "never saw a critical hit in 500 attacks")
}
