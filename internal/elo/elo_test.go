package elo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculator_Delta_EqualRatingsWin(t *testing.T) {
	c := NewCalculator(32)
	delta := c.Delta(1000, 1000, Win)
	assert.Equal(t, 16, delta)
}

func TestCalculator_Delta_EqualRatingsLoss(t *testing.T) {
	c := NewCalculator(32)
	delta := c.Delta(1000, 1000, Loss)
	assert.Equal(t, -16, delta)
}

func TestCalculator_Delta_EqualRatingsDraw(t *testing.T) {
	c := NewCalculator(32)
	delta := c.Delta(1000, 1000, Draw)
	assert.Equal(t, 0, delta)
}

func TestCalculator_Delta_ConservationOfRating(t *testing.T) {
	c := NewCalculator(32)
	r1, r2 := 1200, 1400
	d1 := c.Delta(r1, r2, Win)
	d2 := c.Delta(r2, r1, Loss)
	assert.Equal(t, 0, d1+d2)
}

func TestCalculator_Delta_HigherRatedWinnerGainsLess(t *testing.T) {
	c := NewCalculator(32)
	underdogGain := c.Delta(1000, 1400, Win)
	favoriteGain := c.Delta(1400, 1000, Win)
	assert.Greater(t, underdogGain, favoriteGain)
}

func TestCalculator_NewCalculator_NonPositiveKFactorFallsBackToDefault(t *testing.T) {
	c := NewCalculator(0)
	require.Equal(t, DefaultKFactor, c.kFactor)
}

func TestApply_FloorsAtZero(t *testing.T) {
	assert.Equal(t, 0, Apply(10, -50))
}

func TestApply_NoFloorWhenPositive(t *testing.T) {
	assert.Equal(t, 984, Apply(1000, -16))
}

func TestCalculator_Delta_S1Scenario(t *testing.T) {
	// §8 scenario S1: both players at 1000, A wins outright.
	c := NewCalculator(32)
	deltaWinner := c.Delta(1000, 1000, Win)
	deltaLoser := c.Delta(1000, 1000, Loss)
	assert.Equal(t, 16, deltaWinner)
	assert.Equal(t, -16, deltaLoser)
	assert.Equal(t, 1016, Apply(1000, deltaWinner))
	assert.Equal(t, 984, Apply(1000, deltaLoser))
}

func TestCalculator_Delta_S2DrawScenario(t *testing.T) {
	// §8 scenario S2: a draw between equally rated players changes nothing.
	c := NewCalculator(32)
	d1 := c.Delta(1500, 1500, Draw)
	d2 := c.Delta(1500, 1500, Draw)
	assert.Equal(t, 0, d1)
	assert.Equal(t, 0, d2)
}
