package replay

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lobreplay/internal/engine"
)

type fakeTapes struct {
	history []engine.Message
	orders  []engine.Message
	exits   []engine.ExitRecord
	trades  []engine.TradeRecord
}

func (f fakeTapes) History() []engine.Message  { return f.history }
func (f fakeTapes) Orders() []engine.Message   { return f.orders }
func (f fakeTapes) Exits() []engine.ExitRecord { return f.exits }
func (f fakeTapes) Trades() []engine.TradeRecord { return f.trades }

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

// S1: a single pre-open resting limit order with no other activity.
func TestRun_SinglePreOpenLimit(t *testing.T) {
	base := time.Date(2017, 1, 3, 0, 0, 0, 0, time.UTC)
	open := base.Add(9 * time.Hour)
	closing := base.Add(17*time.Hour + 30*time.Minute)

	tapes := fakeTapes{
		history: []engine.Message{{
			FID:          17480177072,
			Side:         engine.Bid,
			Kind:         engine.KindLimit,
			Price:        mustDecimal(t, "32.46"),
			InitialQty:   150,
			DisclosedQty: 150,
			ValidityTime: base.Add(8 * time.Hour),
		}},
	}

	run := NewRun("FR0000120404", base, open, closing, tapes)
	require.NoError(t, run.Execute(tapes, 0, nil))

	bids, _ := run.Book().GetLevels(5, false)
	require.Len(t, bids, 1)
	assert.True(t, bids[0].Price.Equal(mustDecimal(t, "32.46")))
	assert.EqualValues(t, 150, bids[0].Size)
}

func TestRun_ReconciliationFlagsMismatch(t *testing.T) {
	base := time.Date(2017, 1, 3, 0, 0, 0, 0, time.UTC)
	open := base.Add(9 * time.Hour)
	closing := base.Add(17*time.Hour + 30*time.Minute)

	tapes := fakeTapes{
		trades: []engine.TradeRecord{
			{BidFID: 1, AskFID: 2, Qty: 100, Price: mustDecimal(t, "35.00"), Time: base.Add(10 * time.Hour), Aggressor: '2'},
		},
	}

	run := NewRun("FR0000120404", base, open, closing, tapes)
	require.NoError(t, run.Execute(tapes, 0, nil))

	rec := run.Result(tapes)
	assert.False(t, rec.OK())
	mismatch, ok := rec.Divergent[1]
	require.True(t, ok)
	assert.EqualValues(t, 100, mismatch.TapeBuyQty)
	assert.EqualValues(t, 0, mismatch.EngineBuyQty)
}
