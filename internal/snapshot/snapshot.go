// Package snapshot samples an order book at scheduled instants and writes
// one CSV row per sample, the spec §6 "Snapshot output" contract.
package snapshot

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"lobreplay/internal/engine"
)

// Row is one scheduled sample of the book: the touch, the spread, and
// depth levels per side with full six-counter detail.
type Row struct {
	Timestamp time.Time
	Spread    string
	BestBid   string
	BestAsk   string
	Bids      []LevelDetail
	Asks      []LevelDetail
}

// LevelDetail is one {side}_n_* column group.
type LevelDetail struct {
	Price        string
	Qty          uint64
	DisclosedHFT uint64
	DisclosedMIX uint64
	DisclosedNON uint64
	HiddenHFT    uint64
	HiddenMIX    uint64
	HiddenNON    uint64
}

// Emitter produces snapshot rows at a fixed depth, running the cancel
// sweep first so a just-exited order never leaks into a sample (spec §8
// B1/S6).
type Emitter struct {
	Depth int
}

// Emit runs the cancel sweep up to cancelSweepLimit (or ts if nil), then
// reads Depth levels per side with full detail and assembles a Row.
func (e Emitter) Emit(book *engine.OrderBook, ts time.Time, cancelSweepLimit *time.Time) Row {
	limit := ts
	if cancelSweepLimit != nil {
		limit = *cancelSweepLimit
	}
	book.CancelSweepUntil(limit)

	bids, asks := book.GetLevels(e.Depth, true)

	row := Row{
		Timestamp: ts,
		Spread:    book.Spread().String(),
		Bids:      make([]LevelDetail, len(bids)),
		Asks:      make([]LevelDetail, len(asks)),
	}
	if b := book.BestBid(); b != nil {
		row.BestBid = b.Price.String()
	}
	if a := book.BestAsk(); a != nil {
		row.BestAsk = a.Price.String()
	}
	for i, l := range bids {
		row.Bids[i] = levelDetail(l)
	}
	for i, l := range asks {
		row.Asks[i] = levelDetail(l)
	}
	return row
}

func levelDetail(l engine.LimitLevel) LevelDetail {
	return LevelDetail{
		Price:        l.Price.String(),
		Qty:          l.Size,
		DisclosedHFT: l.DisclosedHFT,
		DisclosedMIX: l.DisclosedMIX,
		DisclosedNON: l.DisclosedNON,
		HiddenHFT:    l.HiddenHFT,
		HiddenMIX:    l.HiddenMIX,
		HiddenNON:    l.HiddenNON,
	}
}

// Writer serializes Rows to CSV, one header written lazily on the first
// row so the column count matches the configured depth (spec §9 explicitly
// steers away from adopting a dataframe library for this).
type Writer struct {
	w          *csv.Writer
	depth      int
	wroteHeader bool
}

func NewWriter(w io.Writer, depth int) *Writer {
	return &Writer{w: csv.NewWriter(w), depth: depth}
}

func (w *Writer) WriteRow(r Row) error {
	if !w.wroteHeader {
		if err := w.w.Write(w.header()); err != nil {
			return fmt.Errorf("snapshot: writing header: %w", err)
		}
		w.wroteHeader = true
	}
	if err := w.w.Write(w.record(r)); err != nil {
		return fmt.Errorf("snapshot: writing row: %w", err)
	}
	w.w.Flush()
	return w.w.Error()
}

func (w *Writer) header() []string {
	cols := []string{"ts", "spread", "best_bid", "best_ask"}
	for _, side := range []string{"bid", "ask"} {
		for n := 0; n < w.depth; n++ {
			cols = append(cols,
				fmt.Sprintf("%s_%d_price", side, n),
				fmt.Sprintf("%s_%d_qty", side, n),
				fmt.Sprintf("%s_%d_disclosed_hft", side, n),
				fmt.Sprintf("%s_%d_disclosed_mix", side, n),
				fmt.Sprintf("%s_%d_disclosed_non", side, n),
				fmt.Sprintf("%s_%d_hidden_hft", side, n),
				fmt.Sprintf("%s_%d_hidden_mix", side, n),
				fmt.Sprintf("%s_%d_hidden_non", side, n),
			)
		}
	}
	return cols
}

func (w *Writer) record(r Row) []string {
	rec := []string{r.Timestamp.Format(time.RFC3339Nano), r.Spread, r.BestBid, r.BestAsk}
	rec = append(rec, levelColumns(r.Bids, w.depth)...)
	rec = append(rec, levelColumns(r.Asks, w.depth)...)
	return rec
}

func levelColumns(levels []LevelDetail, depth int) []string {
	out := make([]string, 0, depth*8)
	for n := 0; n < depth; n++ {
		if n < len(levels) {
			l := levels[n]
			out = append(out, l.Price, fmt.Sprint(l.Qty),
				fmt.Sprint(l.DisclosedHFT), fmt.Sprint(l.DisclosedMIX), fmt.Sprint(l.DisclosedNON),
				fmt.Sprint(l.HiddenHFT), fmt.Sprint(l.HiddenMIX), fmt.Sprint(l.HiddenNON))
		} else {
			out = append(out, "", "0", "0", "0", "0", "0", "0", "0")
		}
	}
	return out
}
