package snapshot

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lobreplay/internal/engine"
)

func TestEmit_SweepsBeforeReadingLevels(t *testing.T) {
	base := time.Date(2017, 1, 3, 9, 0, 0, 0, time.UTC)
	book := engine.New("FR0000120404", base, base.Add(30*time.Minute), base.Add(8*time.Hour+30*time.Minute))

	msg := engine.Message{
		FID: 1, Side: engine.Bid, Kind: engine.KindLimit,
		InitialQty: 100, DisclosedQty: 100,
		ValidityTime: base,
	}
	require.NoError(t, book.Process(msg))

	// Order 1 exits a microsecond before the snapshot instant.
	ts := base.Add(time.Minute)
	book.SetExits([]engine.ExitRecord{
		{BookReleaseTime: ts.Add(-time.Microsecond), FID: 1, Side: engine.Bid, State: '1'},
	})

	e := Emitter{Depth: 3}
	row := e.Emit(book, ts, nil)

	assert.Empty(t, row.BestBid)
	for _, l := range row.Bids {
		assert.Empty(t, l.Price)
	}
}

func TestWriter_WritesHeaderOnce(t *testing.T) {
	base := time.Date(2017, 1, 3, 9, 0, 0, 0, time.UTC)
	book := engine.New("FR0000120404", base, base.Add(30*time.Minute), base.Add(8*time.Hour+30*time.Minute))

	e := Emitter{Depth: 2}
	row1 := e.Emit(book, base, nil)
	row2 := e.Emit(book, base.Add(time.Minute), nil)

	var buf bytes.Buffer
	w := NewWriter(&buf, 2)
	require.NoError(t, w.WriteRow(row1))
	require.NoError(t, w.WriteRow(row2))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "bid_0_price")
}
