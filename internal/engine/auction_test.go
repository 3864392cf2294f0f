package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Rule 3 (spec §4.4): among the candidates tied for minimum |imbalance|, a
// buy-side residual (imbalance > 0) picks the maximum price.
func TestSelectUncrossingPrice_PicksMaxPriceOnBuySideResidual(t *testing.T) {
	candidates := []auctionCandidate{
		{price: mustDecimal(t, "35.00"), volume: 300, imbalance: 100},
		{price: mustDecimal(t, "36.00"), volume: 300, imbalance: 100},
	}
	winner, err := selectUncrossingPrice(candidates)
	require.NoError(t, err)
	assert.True(t, winner.price.Equal(mustDecimal(t, "36.00")))
}

// A sell-side residual (imbalance < 0) picks the minimum price.
func TestSelectUncrossingPrice_PicksMinPriceOnSellSideResidual(t *testing.T) {
	candidates := []auctionCandidate{
		{price: mustDecimal(t, "35.00"), volume: 300, imbalance: -100},
		{price: mustDecimal(t, "36.00"), volume: 300, imbalance: -100},
	}
	winner, err := selectUncrossingPrice(candidates)
	require.NoError(t, err)
	assert.True(t, winner.price.Equal(mustDecimal(t, "35.00")))
}

// A perfectly balanced tier (imbalance == 0) picks the maximum price.
func TestSelectUncrossingPrice_PicksMaxPriceOnBalancedImbalance(t *testing.T) {
	candidates := []auctionCandidate{
		{price: mustDecimal(t, "35.00"), volume: 300, imbalance: 0},
		{price: mustDecimal(t, "36.00"), volume: 300, imbalance: 0},
	}
	winner, err := selectUncrossingPrice(candidates)
	require.NoError(t, err)
	assert.True(t, winner.price.Equal(mustDecimal(t, "36.00")))
}

// Rule 4 (spec §4.4): if the minimum-|imbalance| tier holds more than one
// distinct signed imbalance value (e.g. +100 and -100, both |100|), rule 3
// cannot be applied uniformly and the price must fail loudly rather than
// silently pick one.
func TestSelectUncrossingPrice_FailsOnMixedImbalanceSigns(t *testing.T) {
	candidates := []auctionCandidate{
		{price: mustDecimal(t, "35.00"), volume: 300, imbalance: 100},
		{price: mustDecimal(t, "36.00"), volume: 300, imbalance: -100},
	}
	_, err := selectUncrossingPrice(candidates)
	assert.ErrorIs(t, err, ErrUnresolvedAuctionPrice)
}

// No executable volume at any candidate price: the winning price is moot,
// so rule 3/4 never even run.
func TestSelectUncrossingPrice_NoCrossShortCircuits(t *testing.T) {
	candidates := []auctionCandidate{
		{price: mustDecimal(t, "35.00"), volume: 0, imbalance: 500},
		{price: mustDecimal(t, "36.00"), volume: 0, imbalance: -500},
	}
	winner, err := selectUncrossingPrice(candidates)
	require.NoError(t, err)
	assert.EqualValues(t, 0, winner.volume)
}
