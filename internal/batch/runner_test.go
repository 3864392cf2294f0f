package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lobreplay/internal/engine"
)

type fakeTapes struct {
	history []engine.Message
}

func (f fakeTapes) History() []engine.Message      { return f.history }
func (f fakeTapes) Orders() []engine.Message        { return nil }
func (f fakeTapes) Exits() []engine.ExitRecord      { return nil }
func (f fakeTapes) Trades() []engine.TradeRecord    { return nil }

func fixtureJob(isin string, day int) Job {
	base := time.Date(2017, 1, day, 0, 0, 0, 0, time.UTC)
	return Job{
		ISIN:    isin,
		Date:    base,
		Opening: base.Add(9 * time.Hour),
		Closing: base.Add(17*time.Hour + 30*time.Minute),
		Tapes: fakeTapes{history: []engine.Message{{
			FID:          int64(day),
			Side:         engine.Bid,
			Kind:         engine.KindLimit,
			InitialQty:   100,
			DisclosedQty: 100,
			ValidityTime: base.Add(8 * time.Hour),
		}}},
	}
}

func TestRunner_ReplaysEveryJob(t *testing.T) {
	jobs := []Job{fixtureJob("FR0000120404", 3), fixtureJob("FR0000120404", 4), fixtureJob("FR0000120404", 5)}

	r := NewRunner(2)
	outcomes, err := r.Run(jobs)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	seen := make(map[int]bool)
	for _, o := range outcomes {
		require.NoError(t, o.Err)
		seen[o.Job.Date.Day()] = true
		bids, _ := o.Run.Book().GetLevels(1, false)
		require.Len(t, bids, 1)
		assert.EqualValues(t, 100, bids[0].Size)
	}
	assert.True(t, seen[3] && seen[4] && seen[5])
}
