package replay

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"lobreplay/internal/engine"
)

// SnapshotFunc is called at each scheduled sample instant with the book and
// that sample instant (spec §4.7,
// "snapshots, when requested, interleave between messages").
type SnapshotFunc func(book *engine.OrderBook, ts time.Time)

// Run owns one engine.OrderBook for the duration of one (instrument, day)
// replay. ID correlates every log line this run emits, the way the
// teacher's internal/net server stamps a uuid onto each inbound order.
type Run struct {
	ID   uuid.UUID
	ISIN string
	Date time.Time

	book *engine.OrderBook
	log  zerolog.Logger
}

// NewRun constructs a replay run for one instrument-day, installs the exit
// and trade reconciliation tapes, and returns the run ready for Execute.
func NewRun(isin string, date, openingAuction, closingAuction time.Time, tapes Tapes) *Run {
	id := uuid.New()
	book := engine.New(isin, date, openingAuction, closingAuction)
	book.SetExits(tapes.Exits())
	book.SetTapeTrades(tapes.Trades())

	return &Run{
		ID:   id,
		ISIN: isin,
		Date: date,
		book: book,
		log:  log.With().Str("run_id", id.String()).Str("isin", isin).Logger(),
	}
}

// Book exposes the underlying order book, e.g. for an interactive verify
// subcommand that wants to inspect state after Execute returns.
func (r *Run) Book() *engine.OrderBook { return r.book }

// Execute feeds history then orders, in time order, optionally invoking
// snapshotEvery interleaved between messages when snapshot is non-nil.
func (r *Run) Execute(tapes Tapes, snapshotEvery time.Duration, snapshot SnapshotFunc) error {
	messages := make([]engine.Message, 0, len(tapes.History())+len(tapes.Orders()))
	messages = append(messages, tapes.History()...)
	messages = append(messages, tapes.Orders()...)
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].ValidityTime.Before(messages[j].ValidityTime)
	})

	var nextSnapshot time.Time
	if snapshot != nil && snapshotEvery > 0 && len(messages) > 0 {
		nextSnapshot = messages[0].ValidityTime.Add(snapshotEvery)
	}

	for _, msg := range messages {
		if snapshot != nil && snapshotEvery > 0 {
			for !nextSnapshot.After(msg.ValidityTime) {
				snapshot(r.book, nextSnapshot)
				nextSnapshot = nextSnapshot.Add(snapshotEvery)
			}
		}
		if err := r.book.Process(msg); err != nil {
			if errors.Is(err, engine.ErrUnknownOrderState) {
				r.log.Error().Int64("fid", msg.FID).Err(err).Msg("skipping message")
				continue
			}
			r.log.Error().Int64("fid", msg.FID).Err(err).Msg("message processing failed")
			return err
		}
	}

	if snapshot != nil && snapshotEvery > 0 && len(messages) > 0 {
		snapshot(r.book, r.book.Clock())
	}

	return nil
}

// Reconciliation is the §7 "user-visible surface": per-fid buy/sell
// quantity sums the engine applied, compared against the original trade
// tape, for the driver's verify exit code.
type Reconciliation struct {
	Divergent map[int64]FIDMismatch
}

// FIDMismatch records one fid whose engine-applied quantity diverges from
// the tape's recorded quantity, as a buyer, a seller, or both.
type FIDMismatch struct {
	TapeBuyQty, EngineBuyQty   uint64
	TapeSellQty, EngineSellQty uint64
}

// OK reports whether every fid's engine-applied sums match the tape.
func (rec Reconciliation) OK() bool { return len(rec.Divergent) == 0 }

// Result computes the reconciliation report per spec §7/R1: for every fid
// appearing as buyer or seller in the trades tape, the sum of quantities
// the engine actually applied to it must equal the tape's sum.
func (r *Run) Result(tapes Tapes) Reconciliation {
	tapeBuy := make(map[int64]uint64)
	tapeSell := make(map[int64]uint64)
	for _, t := range tapes.Trades() {
		tapeBuy[t.BidFID] += t.Qty
		tapeSell[t.AskFID] += t.Qty
	}

	engineBuy := make(map[int64]uint64)
	engineSell := make(map[int64]uint64)
	for _, t := range r.book.Trades {
		engineBuy[t.BidFID] += t.Qty
		engineSell[t.AskFID] += t.Qty
	}

	fids := make(map[int64]struct{})
	for fid := range tapeBuy {
		fids[fid] = struct{}{}
	}
	for fid := range tapeSell {
		fids[fid] = struct{}{}
	}

	divergent := make(map[int64]FIDMismatch)
	for fid := range fids {
		tb, eb := tapeBuy[fid], engineBuy[fid]
		ts, es := tapeSell[fid], engineSell[fid]
		if tb != eb || ts != es {
			divergent[fid] = FIDMismatch{
				TapeBuyQty: tb, EngineBuyQty: eb,
				TapeSellQty: ts, EngineSellQty: es,
			}
		}
	}

	return Reconciliation{Divergent: divergent}
}
