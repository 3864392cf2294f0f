// Package engine implements the order book engine: the matching state
// machine, price-level structure, order index, auction uncrossing, and
// stop/pegged trigger logic described by the reconstruction specification.
package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

// PriceLevels is the ordered price -> LimitLevel map for one side of the
// book (spec §9 "ordered side maps"), backed by a tidwall/btree.BTreeG the
// way the teacher's internal/engine/orderbook.go keys its PriceLevels.
type PriceLevels = btree.BTreeG[*LimitLevel]

// stopBucket holds the two parallel FIFOs of contingent orders resting at
// one stop-trigger price: market-kind stops fire before limit-kind stops at
// the same trigger (spec §9 "Stop-order tie-breaking").
type stopBucket struct {
	market []*Order
	limit  []*Order
}

func (b *stopBucket) empty() bool { return len(b.market) == 0 && len(b.limit) == 0 }

func (b *stopBucket) remove(o *Order) bool {
	list := &b.limit
	if o.Kind == KindStopMarket {
		list = &b.market
	}
	for i, candidate := range *list {
		if candidate.FID == o.FID {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return true
		}
	}
	return false
}

// OrderBook is the central state machine for one (instrument, day).
type OrderBook struct {
	ISIN string
	Date time.Time

	bids *PriceLevels
	asks *PriceLevels

	bestBid *LimitLevel
	bestAsk *LimitLevel

	orderIndex  map[int64]*Order
	peggedIndex map[int64]*Order

	buyStops  map[string]*stopBucket
	sellStops map[string]*stopBucket

	validForClosing []*Order

	lastTradePrice decimal.Decimal
	clock          time.Time

	openingAuction *Auction
	closingAuction *Auction

	// exits and tapeTrades are the reconciliation tapes: the exchange's
	// ground truth for order removal and for continuous-session trading,
	// pre-sorted descending by time and popped from the tail (spec §9).
	exits      []ExitRecord
	tapeTrades []TradeRecord

	// Trades is the engine's own synthesized trade output (auction fills
	// plus tape-reconciled continuous fills), used downstream to validate
	// against the tape (spec §8 R1).
	Trades []Trade

	tradeSeq uint64

	log zerolog.Logger
}

// New constructs an order book for one instrument-day with its two auction
// instants. Call SetExits/SetTapeTrades before processing any message.
func New(isin string, date time.Time, openingAuctionTime, closingAuctionTime time.Time) *OrderBook {
	b := &OrderBook{
		ISIN: isin,
		Date: date,
		bids: btree.NewBTreeG(func(a, b *LimitLevel) bool {
			return a.Price.GreaterThan(b.Price) // descending: highest bid first
		}),
		asks: btree.NewBTreeG(func(a, b *LimitLevel) bool {
			return a.Price.LessThan(b.Price) // ascending: lowest ask first
		}),
		orderIndex:     make(map[int64]*Order),
		peggedIndex:    make(map[int64]*Order),
		buyStops:       make(map[string]*stopBucket),
		sellStops:      make(map[string]*stopBucket),
		openingAuction: &Auction{Time: openingAuctionTime},
		closingAuction: &Auction{Time: closingAuctionTime},
		log:            log.With().Str("isin", isin).Logger(),
	}
	return b
}

// SetExits installs the order-exit reconciliation tape, sorted descending by
// BookReleaseTime so the earliest exit is at the tail.
func (b *OrderBook) SetExits(exits []ExitRecord) {
	b.exits = sortDescendingExits(exits)
}

// SetTapeTrades installs the trade reconciliation tape, sorted descending by
// time so the earliest trade is at the tail.
func (b *OrderBook) SetTapeTrades(trades []TradeRecord) {
	b.tapeTrades = sortDescendingTrades(trades)
}

// Spread is best_ask - best_bid, rounded to tick precision. Only meaningful
// when both sides are non-empty.
func (b *OrderBook) Spread() decimal.Decimal {
	if b.bestBid == nil || b.bestAsk == nil {
		return decimal.Zero
	}
	return b.bestAsk.Price.Sub(b.bestBid.Price).Round(3)
}

func (b *OrderBook) BestBid() *LimitLevel { return b.bestBid }
func (b *OrderBook) BestAsk() *LimitLevel { return b.bestAsk }
func (b *OrderBook) Clock() time.Time     { return b.clock }

// IsBeforeAuction reports whether the book clock is still ahead of the
// opening auction instant (the original's `is_before_auction` property).
func (b *OrderBook) IsBeforeAuction() bool {
	return b.clock.Before(b.openingAuction.Time)
}

// IsAuctionPending reports whether the clock has crossed an auction instant
// that hasn't run yet (the original's `is_auction` property).
func (b *OrderBook) IsAuctionPending() bool {
	return (b.clock.After(b.openingAuction.Time) && !b.openingAuction.Passed) ||
		(b.clock.After(b.closingAuction.Time) && !b.closingAuction.Passed)
}

// Process advances the book's clock to the message's validity time and
// drives the full per-message pipeline described in spec §4.3.
func (b *OrderBook) Process(msg Message) error {
	b.clock = msg.ValidityTime

	b.CancelSweepUntil(b.clock)

	if err := b.checkAuctions(); err != nil {
		return err
	}

	b.preprocess(&msg)

	if _, resting := b.orderIndex[msg.FID]; resting {
		if err := b.modify(msg); err != nil {
			return err
		}
	} else {
		if err := b.add(msg); err != nil {
			return err
		}
	}

	if !b.IsBeforeAuction() {
		b.reconcileTrades(b.orderIndex[msg.FID])
		b.triggerStops()
	}

	return nil
}

// CancelSweepUntil pops and applies every exit whose book-release time is
// strictly before limit, without consuming an order message. The snapshot
// emitter calls this directly with its own cancel_sweep_limit (spec §6, S6);
// Process calls it with the message clock.
func (b *OrderBook) CancelSweepUntil(limit time.Time) {
	for len(b.exits) > 0 {
		tail := b.exits[len(b.exits)-1]
		if !tail.BookReleaseTime.Before(limit) {
			break
		}
		b.exits = b.exits[:len(b.exits)-1]
		if tail.State != exitStateTrade {
			if err := b.remove(tail.FID); err != nil {
				b.log.Debug().Int64("fid", tail.FID).Err(err).Msg("cancel sweep: order already gone")
			}
		}
	}
}

func (b *OrderBook) checkAuctions() error {
	if b.clock.After(b.openingAuction.Time) && !b.openingAuction.Passed {
		if err := b.runAuction(b.openingAuction); err != nil {
			return err
		}
		b.triggerStops()
	}
	if b.clock.After(b.closingAuction.Time) && !b.closingAuction.Passed {
		if err := b.runAuction(b.closingAuction); err != nil {
			return err
		}
		b.triggerStops()
	}
	return nil
}

// --- ADD -------------------------------------------------------------------

func (b *OrderBook) add(msg Message) error {
	order := msg.toOrder()
	b.orderIndex[order.FID] = order

	if msg.Validity == ValidityClosingOnly {
		b.validForClosing = append(b.validForClosing, order)
		return nil
	}

	switch order.Kind {
	case KindLimit, KindMarket, KindMarketToLimit:
		b.addLimitOrder(order)
	case KindStopMarket, KindStopLimit:
		b.addStopOrder(order)
	case KindPegged:
		order.StopPrice = order.Price
		b.addPeggedOrder(order)
	default:
		delete(b.orderIndex, order.FID)
		return fmt.Errorf("%w: kind %q", ErrUnknownOrderState, string(order.Kind))
	}
	return nil
}

func (b *OrderBook) addLimitOrder(o *Order) {
	side := b.sideLevels(o.Side)
	level, ok := side.Get(&LimitLevel{Price: o.Price})
	if !ok {
		level = newLimitLevel(o.Side, o.Price)
		side.Set(level)
	}
	level.append(o)

	if o.Side == Bid {
		if b.bestBid == nil || o.Price.GreaterThan(b.bestBid.Price) {
			b.bestBid = level
		}
	} else {
		if b.bestAsk == nil || o.Price.LessThan(b.bestAsk.Price) {
			b.bestAsk = level
		}
	}
}

func (b *OrderBook) addStopOrder(o *Order) {
	side := b.stopSide(o.Side)
	key := tickKey(o.StopPrice)
	bucket, ok := side[key]
	if !ok {
		bucket = &stopBucket{}
		side[key] = bucket
	}
	if o.Kind == KindStopMarket {
		bucket.market = append(bucket.market, o)
	} else {
		bucket.limit = append(bucket.limit, o)
	}
}

func (b *OrderBook) addPeggedOrder(o *Order) {
	b.peggedIndex[o.FID] = o
	o.Price = o.pegPrice(b.bestBid, b.bestAsk)
	b.addLimitOrder(o)
}

func (o *Order) pegPrice(bestBid, bestAsk *LimitLevel) decimal.Decimal {
	if o.Side == Bid {
		if bestBid == nil {
			return o.StopPrice
		}
		return decimal.Min(bestBid.Price, o.StopPrice)
	}
	if bestAsk == nil {
		return o.StopPrice
	}
	return decimal.Max(bestAsk.Price, o.StopPrice)
}

// --- MODIFY ------------------------------------------------------------

func (b *OrderBook) modify(msg Message) error {
	o, ok := b.orderIndex[msg.FID]
	if !ok {
		return fmt.Errorf("%w: fid %d", ErrOrderNotFound, msg.FID)
	}

	switch {
	case !o.Price.Equal(msg.Price):
		qNeg := o.NegotiatedQty
		if err := b.remove(msg.FID); err != nil {
			return err
		}
		if err := b.add(msg); err != nil {
			return err
		}
		b.orderIndex[msg.FID].overwriteNegotiated(qNeg)

	case !o.StopPrice.Equal(msg.StopPrice):
		b.relocateStop(o, msg.StopPrice)

	case o.InitialQty != msg.InitialQty:
		b.resizeOrder(o, msg)

	case !o.Expiration.Equal(msg.Expiration):
		o.Expiration = msg.Expiration

	default:
		b.log.Debug().Int64("fid", msg.FID).Msg("modify: no observable change, ignoring")
	}
	return nil
}

func (b *OrderBook) relocateStop(o *Order, newStop decimal.Decimal) {
	side := b.stopSide(o.Side)
	oldKey := tickKey(o.StopPrice)
	if bucket, ok := side[oldKey]; ok {
		bucket.remove(o)
		if bucket.empty() {
			delete(side, oldKey)
		}
	}
	o.StopPrice = newStop
	newKey := tickKey(newStop)
	bucket, ok := side[newKey]
	if !ok {
		bucket = &stopBucket{}
		side[newKey] = bucket
	}
	if o.Kind == KindStopMarket {
		bucket.market = append(bucket.market, o)
	} else {
		bucket.limit = append(bucket.limit, o)
	}
}

func (b *OrderBook) resizeOrder(o *Order, msg Message) {
	delta := int64(msg.InitialQty) - int64(o.InitialQty)
	newRemaining := uint64(int64(o.RemainingQty) + delta)
	deltaDisclosed := int64(min(newRemaining, msg.DisclosedQty)) - int64(o.DisclosedQty)
	deltaHidden := delta - deltaDisclosed

	o.InitialQty = msg.InitialQty
	o.RemainingQty = newRemaining
	o.MinExecQty = msg.MinExecQty
	o.DisclosedQty = min(newRemaining, msg.DisclosedQty)

	if o.level != nil {
		o.level.adjustSize(o.Member, delta, deltaDisclosed, deltaHidden)
	}
}

// --- REMOVE ------------------------------------------------------------

func (b *OrderBook) remove(fid int64) error {
	o, ok := b.orderIndex[fid]
	if !ok {
		return fmt.Errorf("%w: fid %d", ErrContingentNotFound, fid)
	}
	delete(b.orderIndex, fid)

	if o.Kind.IsStop() {
		side := b.stopSide(o.Side)
		key := tickKey(o.StopPrice)
		if bucket, ok := side[key]; ok {
			bucket.remove(o)
			if bucket.empty() {
				delete(side, key)
			}
		}
		return nil
	}

	if o.Kind == KindPegged {
		delete(b.peggedIndex, fid)
	}

	if o.Validity == ValidityClosingOnly && o.level == nil {
		for i, candidate := range b.validForClosing {
			if candidate.FID == fid {
				b.validForClosing = append(b.validForClosing[:i], b.validForClosing[i+1:]...)
				return nil
			}
		}
		return nil
	}

	level := o.level
	if level == nil {
		return nil
	}
	level.pop(o)

	if level.Empty() {
		side := b.sideLevels(o.Side)
		side.Delete(level)
		if o.Side == Bid && level == b.bestBid {
			b.refreshBestBid()
		} else if o.Side == Ask && level == b.bestAsk {
			b.refreshBestAsk()
		}
	}
	return nil
}

func (b *OrderBook) refreshBestBid() {
	if top, ok := b.bids.Min(); ok {
		b.bestBid = top
	} else {
		b.bestBid = nil
	}
}

func (b *OrderBook) refreshBestAsk() {
	if top, ok := b.asks.Min(); ok {
		b.bestAsk = top
	} else {
		b.bestAsk = nil
	}
}

// fillOrder applies a trade quantity to a resting order: removes it if
// fully filled (refreshing the cached best price), otherwise shrinks it.
func (b *OrderBook) fillOrder(fid int64, qty uint64) {
	o, ok := b.orderIndex[fid]
	if !ok {
		b.log.Error().Int64("fid", fid).Msg("fill referenced unknown order")
		return
	}
	o.fill(qty)
	if o.RemainingQty == 0 {
		_ = b.remove(fid)
	}
}

// --- trade reconciliation (spec §4.5) ------------------------------------

// reconcileTrades pops tape trades off the tail while the current order c
// (the one just added/modified, or a just-promoted stop) could be the
// trade's aggressor, applying each to the two referenced resting orders.
// The engine never re-derives continuous-trading matches itself (spec §9):
// the tape is ground truth, and fillOrder exists precisely so this is the
// only path that invokes it outside of an auction cross.
func (b *OrderBook) reconcileTrades(c *Order) {
	for len(b.tapeTrades) > 0 {
		tail := b.tapeTrades[len(b.tapeTrades)-1]
		if !b.tradeApplies(c, tail) {
			return
		}
		b.tapeTrades = b.tapeTrades[:len(b.tapeTrades)-1]

		bidMember, askMember := MemberNON, MemberNON
		if o, ok := b.orderIndex[tail.BidFID]; ok {
			bidMember = o.Member
			b.fillOrder(tail.BidFID, tail.Qty)
		}
		if o, ok := b.orderIndex[tail.AskFID]; ok {
			askMember = o.Member
			b.fillOrder(tail.AskFID, tail.Qty)
		}

		b.tradeSeq++
		b.Trades = append(b.Trades, Trade{
			SeqNo:   b.tradeSeq,
			BidFID:  tail.BidFID,
			AskFID:  tail.AskFID,
			Qty:     tail.Qty,
			Price:   tail.Price,
			Time:    tail.Time,
			BidType: bidMember,
			AskType: askMember,
		})

		if !b.lastTradePrice.Equal(tail.Price) {
			b.lastTradePrice = tail.Price
			b.repegAll()
		}
	}
}

// tradeApplies is the §4.5 predicate: a tape trade is consumed once the
// order that could have caused it — the just-processed message's order, or
// a just-promoted stop — is recognizable as its aggressor, or (for
// auction-leftover continuous trades tagged '2') once both referenced fids
// are resident in the book regardless of which one just moved.
func (b *OrderBook) tradeApplies(c *Order, t TradeRecord) bool {
	if t.Aggressor == '2' {
		_, bidResting := b.orderIndex[t.BidFID]
		_, askResting := b.orderIndex[t.AskFID]
		return bidResting && askResting
	}
	if c == nil {
		return false
	}
	if t.Aggressor == 'A' && t.BidFID == c.FID && c.Side == Bid {
		return c.Price.GreaterThanOrEqual(t.Price)
	}
	if t.Aggressor == 'V' && t.AskFID == c.FID && c.Side == Ask {
		return c.Price.LessThanOrEqual(t.Price)
	}
	return false
}

// --- stop & pegged order maintenance (spec §4.5, §9) ---------------------

// triggerStops fires every stop bucket whose trigger price has been touched
// by the last trade, market-kind stops before limit-kind stops within a
// bucket, then re-checks since a triggered stop can itself move the touch
// price into the next bucket (spec §9 "Stop order triggering cascades").
func (b *OrderBook) triggerStops() {
	for {
		fired := b.fireStopsOnce(b.buyStops, func(trigger decimal.Decimal) bool {
			return b.lastTradePrice.GreaterThanOrEqual(trigger)
		})
		fired = b.fireStopsOnce(b.sellStops, func(trigger decimal.Decimal) bool {
			return b.lastTradePrice.LessThanOrEqual(trigger)
		}) || fired
		if !fired {
			return
		}
		b.repegAll()
	}
}

func (b *OrderBook) fireStopsOnce(buckets map[string]*stopBucket, touched func(decimal.Decimal) bool) bool {
	any := false
	for key, bucket := range buckets {
		if !touched(bucket.triggerPrice()) {
			continue
		}
		for _, o := range bucket.market {
			b.releaseStop(o, true)
			any = true
		}
		for _, o := range bucket.limit {
			b.releaseStop(o, false)
			any = true
		}
		delete(buckets, key)
	}
	return any
}

func (bucket *stopBucket) triggerPrice() decimal.Decimal {
	if len(bucket.market) > 0 {
		return bucket.market[0].StopPrice
	}
	return bucket.limit[0].StopPrice
}

// releaseStop converts a fired contingent order into a resting limit order:
// a stop-market becomes a marketable limit at the sentinel price for its
// side, a stop-limit keeps its configured limit price. It then immediately
// runs reconciliation against it, since a freshly promoted stop may be the
// aggressor of the next tape trade (spec §4.6).
func (b *OrderBook) releaseStop(o *Order, market bool) {
	if market {
		o.Kind = KindLimit
		if o.Side == Bid {
			o.Price = SentinelBuyPrice
		} else {
			o.Price = SentinelSellPrice
		}
	} else {
		o.Kind = KindLimit
	}
	b.addLimitOrder(o)
	b.reconcileTrades(o)
}

// repegAll recomputes every pegged order's price against the current touch
// and relocates it if the peg moved, per spec §4.5's pegged-order tracking.
func (b *OrderBook) repegAll() {
	for fid, o := range b.peggedIndex {
		target := o.pegPrice(b.bestBid, b.bestAsk)
		if target.Equal(o.Price) {
			continue
		}
		// o keeps its own filled state across the move, so appending it to
		// the new level already folds in only its remaining quantity.
		_ = b.remove(fid)
		o.Price = target
		o.StopPrice = target
		b.orderIndex[fid] = o
		b.peggedIndex[fid] = o
		b.addLimitOrder(o)
	}
}

// --- message preprocessing (spec §9, grounded on preprocess_message.py) --

// preprocess normalizes a raw tape message before it's routed to add or
// modify, mirroring preprocess_message.py step for step: a zero-valued
// disclosed quantity means "fully disclosed" (no iceberg); a nonzero stop
// price reclassifies a plain market/limit order into its stop counterpart
// before anything else inspects Kind; and the sentinel/touch pricing that
// follows depends on whether the clock is still before the opening auction.
func (b *OrderBook) preprocess(msg *Message) {
	if msg.DisclosedQty == 0 {
		msg.DisclosedQty = msg.InitialQty
	}

	if !msg.StopPrice.IsZero() {
		switch msg.Kind {
		case KindMarket:
			msg.Kind = KindStopMarket
		case KindLimit:
			msg.Kind = KindStopLimit
		}
	}

	if b.IsBeforeAuction() {
		switch msg.Kind {
		case KindMarket, KindMarketToLimit, KindStopMarket:
			if msg.Price.IsZero() {
				if msg.Side == Bid {
					msg.Price = SentinelBuyPrice
				} else {
					msg.Price = SentinelSellPrice
				}
			}
		}
		return
	}

	switch msg.Kind {
	case KindMarket, KindStopMarket:
		if msg.Side == Bid {
			msg.Price = SentinelBuyPrice
		} else {
			msg.Price = SentinelSellPrice
		}
	case KindMarketToLimit:
		if msg.Side == Bid {
			if b.bestAsk != nil {
				msg.Price = b.bestAsk.Price
			}
		} else {
			if b.bestBid != nil {
				msg.Price = b.bestBid.Price
			}
		}
	}
}

// --- lookup helpers --------------------------------------------------------

func (b *OrderBook) sideLevels(side Side) *PriceLevels {
	if side == Bid {
		return b.bids
	}
	return b.asks
}

func (b *OrderBook) stopSide(side Side) map[string]*stopBucket {
	if side == Bid {
		return b.buyStops
	}
	return b.sellStops
}

// tickKey canonicalizes a decimal price into a stable map key: decimal.Decimal
// carries an exponent alongside its coefficient, so two values that compare
// Equal may differ in in-memory representation and cannot be used directly
// as a Go map key.
func tickKey(d decimal.Decimal) string {
	return d.StringFixed(6)
}

func sortDescendingExits(exits []ExitRecord) []ExitRecord {
	out := append([]ExitRecord(nil), exits...)
	sort.Slice(out, func(i, j int) bool { return out[i].BookReleaseTime.After(out[j].BookReleaseTime) })
	return out
}

func sortDescendingTrades(trades []TradeRecord) []TradeRecord {
	out := append([]TradeRecord(nil), trades...)
	sort.Slice(out, func(i, j int) bool { return out[i].Time.After(out[j].Time) })
	return out
}

// GetLevels returns the top `depth` price levels per side, deepest last,
// suitable for the snapshot emitter (spec §4.7). When detailed is false the
// six member-class counters are omitted from the copy (still zero-valued).
func (b *OrderBook) GetLevels(depth int, detailed bool) (bids, asks []LimitLevel) {
	b.bids.Scan(func(l *LimitLevel) bool {
		if len(bids) >= depth {
			return false
		}
		bids = append(bids, copyLevel(l, detailed))
		return true
	})
	b.asks.Scan(func(l *LimitLevel) bool {
		if len(asks) >= depth {
			return false
		}
		asks = append(asks, copyLevel(l, detailed))
		return true
	})
	return bids, asks
}

func copyLevel(l *LimitLevel, detailed bool) LimitLevel {
	cp := LimitLevel{Side: l.Side, Price: l.Price, Size: l.Size}
	if detailed {
		cp.DisclosedHFT, cp.DisclosedMIX, cp.DisclosedNON = l.DisclosedHFT, l.DisclosedMIX, l.DisclosedNON
		cp.HiddenHFT, cp.HiddenMIX, cp.HiddenNON = l.HiddenHFT, l.HiddenMIX, l.HiddenNON
	}
	return cp
}
