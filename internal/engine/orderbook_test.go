package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func newTestBook(t *testing.T) *OrderBook {
	t.Helper()
	base := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	b := New("FR0000120404", base, base.Add(9*time.Hour), base.Add(17*time.Hour+30*time.Minute))
	return b
}

func limitMsg(t *testing.T, fid int64, side Side, price string, qty uint64, at time.Duration) Message {
	t.Helper()
	base := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	return Message{
		FID:           fid,
		Side:          side,
		Kind:          KindLimit,
		Price:         mustDecimal(t, price),
		InitialQty:    qty,
		DisclosedQty:  qty,
		Member:        MemberNON,
		BookEntryTime: base.Add(at),
		ValidityTime:  base.Add(at),
	}
}

// S1: a single pre-open limit order rests on its side with no trade.
func TestProcess_SingleRestingOrder(t *testing.T) {
	b := newTestBook(t)

	msg := limitMsg(t, 1, Bid, "35.50", 100, time.Hour)
	require.NoError(t, b.Process(msg))

	require.NotNil(t, b.BestBid())
	assert.True(t, b.BestBid().Price.Equal(mustDecimal(t, "35.50")))
	assert.EqualValues(t, 100, b.BestBid().Size)
	assert.Nil(t, b.BestAsk())
	assert.Empty(t, b.Trades)
}

// S2: a quantity modification during the pre-auction phase updates the
// resting order and its level's member-class counters without a trade.
func TestProcess_QuantityModificationPreAuction(t *testing.T) {
	b := newTestBook(t)

	add := limitMsg(t, 7, Ask, "36.00", 500, time.Hour)
	add.Member = MemberHFT
	add.DisclosedQty = 200 // iceberg: 200 disclosed, 300 hidden
	require.NoError(t, b.Process(add))

	level := b.BestAsk()
	require.NotNil(t, level)
	assert.EqualValues(t, 500, level.Size)
	assert.EqualValues(t, 200, level.DisclosedHFT)
	assert.EqualValues(t, 300, level.HiddenHFT)

	resize := add
	resize.InitialQty = 800
	resize.ValidityTime = add.ValidityTime.Add(time.Minute)
	require.NoError(t, b.Process(resize))

	level = b.BestAsk()
	require.NotNil(t, level)
	assert.EqualValues(t, 800, level.Size)
	assert.EqualValues(t, 200, level.DisclosedHFT)
	assert.EqualValues(t, 600, level.HiddenHFT)
}

// S3: a price change followed by a quantity change in the same order's
// history must preserve negotiated quantity across the reinsert triggered
// by the price move.
func TestProcess_PriceThenQuantityChange(t *testing.T) {
	b := newTestBook(t)

	add := limitMsg(t, 9, Bid, "35.00", 1000, time.Hour)
	require.NoError(t, b.Process(add))

	b.fillOrder(9, 400) // simulate a partial fill before the price move

	reprice := add
	reprice.Price = mustDecimal(t, "35.10")
	reprice.ValidityTime = add.ValidityTime.Add(time.Minute)
	require.NoError(t, b.Process(reprice))

	o, ok := b.orderIndex[9]
	require.True(t, ok)
	assert.EqualValues(t, 400, o.NegotiatedQty)
	assert.EqualValues(t, 600, o.RemainingQty)
	assert.True(t, o.Price.Equal(mustDecimal(t, "35.10")))

	resize := reprice
	resize.InitialQty = 1200
	resize.ValidityTime = reprice.ValidityTime.Add(time.Minute)
	require.NoError(t, b.Process(resize))

	o, ok = b.orderIndex[9]
	require.True(t, ok)
	assert.EqualValues(t, 400, o.NegotiatedQty)
	assert.EqualValues(t, 800, o.RemainingQty)
	assert.EqualValues(t, 800, b.BestBid().Size)
}

// B1: an iceberg's disclosed quantity never exceeds what remains once a
// fill eats into the peak.
func TestFill_IcebergDisclosedCapsAtRemaining(t *testing.T) {
	b := newTestBook(t)

	add := limitMsg(t, 11, Bid, "35.00", 100, time.Hour)
	add.DisclosedQty = 80
	require.NoError(t, b.Process(add))

	b.fillOrder(11, 50)

	o, ok := b.orderIndex[11]
	require.True(t, ok)
	assert.EqualValues(t, 50, o.RemainingQty)
	assert.EqualValues(t, 50, o.DisclosedQty)
}

// B2: a price modification that crosses the book relocates an order from
// one price level to another, folding its counters out of the old level and
// into the new one.
func TestModify_PriceCrossesBook(t *testing.T) {
	b := newTestBook(t)

	require.NoError(t, b.Process(limitMsg(t, 1, Bid, "35.00", 100, time.Hour)))
	add := limitMsg(t, 2, Bid, "34.50", 200, time.Hour+time.Second)
	require.NoError(t, b.Process(add))
	require.NoError(t, b.Process(limitMsg(t, 3, Ask, "35.10", 100, time.Hour+2*time.Second)))

	reprice := add
	reprice.Price = mustDecimal(t, "35.20")
	reprice.ValidityTime = add.ValidityTime.Add(time.Minute)
	require.NoError(t, b.Process(reprice))

	assert.True(t, b.BestBid().Price.Equal(mustDecimal(t, "35.20")))
	assert.True(t, b.BestAsk().Price.Equal(mustDecimal(t, "35.10")))
	assert.Empty(t, b.Trades)

	oldLevel, ok := b.bids.Get(&LimitLevel{Price: mustDecimal(t, "34.50")})
	assert.False(t, ok, "empty level at 34.50 should have been pruned: %+v", oldLevel)
}

// B3: modifying a stop order's trigger price relocates it between stop
// buckets without disturbing other orders resting at either price.
func TestModify_StopPriceRelocates(t *testing.T) {
	b := newTestBook(t)

	add := limitMsg(t, 21, Bid, "0", 100, time.Hour)
	add.Kind = KindStopMarket
	add.StopPrice = mustDecimal(t, "34.00")
	require.NoError(t, b.Process(add))

	bucket, ok := b.buyStops[tickKey(mustDecimal(t, "34.00"))]
	require.True(t, ok)
	require.Len(t, bucket.market, 1)

	reprice := add
	reprice.StopPrice = mustDecimal(t, "34.50")
	reprice.ValidityTime = add.ValidityTime.Add(time.Minute)
	require.NoError(t, b.Process(reprice))

	_, stillAtOld := b.buyStops[tickKey(mustDecimal(t, "34.00"))]
	assert.False(t, stillAtOld)

	moved, ok := b.buyStops[tickKey(mustDecimal(t, "34.50"))]
	require.True(t, ok)
	require.Len(t, moved.market, 1)
	assert.EqualValues(t, 21, moved.market[0].FID)
}

// S6: the cancel sweep removes exited orders before a snapshot boundary,
// independent of the next order message's arrival.
func TestCancelSweep_RemovesExitedOrderBeforeLimit(t *testing.T) {
	b := newTestBook(t)
	base := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	require.NoError(t, b.Process(limitMsg(t, 31, Bid, "35.00", 100, time.Hour)))
	b.SetExits([]ExitRecord{
		{BookReleaseTime: base.Add(time.Hour + 30*time.Minute), FID: 31, Side: Bid, State: '1'},
	})

	b.CancelSweepUntil(base.Add(2 * time.Hour))

	_, resting := b.orderIndex[31]
	assert.False(t, resting)
	assert.Nil(t, b.BestBid())
}

// Opening auction crosses a single bid against a single ask when demand
// fully covers supply at the discovered price.
func TestAuction_SimpleCross(t *testing.T) {
	b := newTestBook(t)
	open := b.openingAuction.Time

	require.NoError(t, b.Process(limitMsg(t, 41, Bid, "36.00", 500, -time.Hour)))
	require.NoError(t, b.Process(limitMsg(t, 42, Ask, "35.50", 300, -30*time.Minute)))

	// 35.50 and 36.00 both execute the same 300-share volume with the same
	// +200 buy-side imbalance; rule 3 breaks the tie in favor of the higher
	// price without needing a reference.

	// A message after the auction instant drives checkAuctions via Process.
	post := limitMsg(t, 43, Bid, "35.80", 50, time.Hour)
	post.ValidityTime = open.Add(time.Minute)
	require.NoError(t, b.Process(post))

	require.True(t, b.openingAuction.Passed)
	assert.False(t, b.openingAuction.NoCross)
	require.Len(t, b.Trades, 1)
	assert.EqualValues(t, 300, b.Trades[0].Qty)
	assert.EqualValues(t, 41, b.Trades[0].BidFID)
	assert.EqualValues(t, 42, b.Trades[0].AskFID)

	// The bid had 200 left over and continues resting at its own price.
	remaining, ok := b.orderIndex[41]
	require.True(t, ok)
	assert.EqualValues(t, 200, remaining.RemainingQty)
}

// A market order carrying a nonzero stop price must be reclassified into
// its stop counterpart before routing, so it rests in a stop bucket instead
// of the limit book (preprocess_message.py's "stop orders flagged as limit
// or market back to stop orders" step).
func TestPreprocess_StopPriceReclassifiesMarketOrder(t *testing.T) {
	b := newTestBook(t)

	msg := limitMsg(t, 61, Bid, "0", 100, time.Hour)
	msg.Kind = KindMarket
	msg.StopPrice = mustDecimal(t, "34.00")
	require.NoError(t, b.Process(msg))

	bucket, ok := b.buyStops[tickKey(mustDecimal(t, "34.00"))]
	require.True(t, ok)
	require.Len(t, bucket.market, 1)
	assert.EqualValues(t, 61, bucket.market[0].FID)

	o, ok := b.orderIndex[61]
	require.True(t, ok)
	assert.Equal(t, KindStopMarket, o.Kind)
	assert.Nil(t, o.level)
	assert.Nil(t, b.BestBid())
}

// During continuous trading a market-to-limit order takes the opposing
// side's touch price, not the sentinel (preprocess_message.py's else branch
// for 'K' orders).
func TestPreprocess_MarketToLimitUsesTouchDuringContinuousTrading(t *testing.T) {
	b := newTestBook(t)

	require.NoError(t, b.Process(limitMsg(t, 71, Bid, "35.00", 100, 10*time.Hour)))
	require.NoError(t, b.Process(limitMsg(t, 72, Ask, "35.20", 100, 10*time.Hour+time.Minute)))
	require.False(t, b.IsBeforeAuction())

	mtl := limitMsg(t, 73, Bid, "0", 50, 10*time.Hour+2*time.Minute)
	mtl.Kind = KindMarketToLimit
	require.NoError(t, b.Process(mtl))

	o, ok := b.orderIndex[73]
	require.True(t, ok)
	assert.True(t, o.Price.Equal(mustDecimal(t, "35.20")))
}

// Pegged orders never set the uncrossing price or execute in the cross;
// they reposition against the new touch once the auction settles.
func TestAuction_PeggedOrderExcludedFromCross(t *testing.T) {
	b := newTestBook(t)
	open := b.openingAuction.Time

	require.NoError(t, b.Process(limitMsg(t, 51, Bid, "36.00", 500, -time.Hour)))
	require.NoError(t, b.Process(limitMsg(t, 52, Ask, "35.50", 300, -30*time.Minute)))

	peg := limitMsg(t, 53, Bid, "0", 1000, -15*time.Minute)
	peg.Kind = KindPegged
	peg.Price = mustDecimal(t, "35.00")
	require.NoError(t, b.Process(peg))

	post := limitMsg(t, 54, Bid, "35.80", 50, time.Hour)
	post.ValidityTime = open.Add(time.Minute)
	require.NoError(t, b.Process(post))

	for _, tr := range b.Trades {
		assert.NotEqualValues(t, 53, tr.BidFID)
		assert.NotEqualValues(t, 53, tr.AskFID)
	}

	pegged, ok := b.orderIndex[53]
	require.True(t, ok)
	assert.EqualValues(t, 1000, pegged.RemainingQty)
}
