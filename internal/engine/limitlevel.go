package engine

import "github.com/shopspring/decimal"

// LimitLevel aggregates every resting order at a single (side, price). It
// exists iff its FIFO queue is non-empty (invariant I3). The queue is an
// intrusive doubly-linked list threaded through Order.prev/next, grounded on
// the index-based intrusive-FIFO pattern used for per-price order queues in
// ejyy-femto_go/orderbook.go, adapted from array indices to pointers since
// fids are sparse 64-bit values rather than small dense slots.
type LimitLevel struct {
	Side  Side
	Price decimal.Decimal

	Size uint64

	DisclosedHFT uint64
	DisclosedMIX uint64
	DisclosedNON uint64
	HiddenHFT    uint64
	HiddenMIX    uint64
	HiddenNON    uint64

	head, tail *Order
	count      int
}

func newLimitLevel(side Side, price decimal.Decimal) *LimitLevel {
	return &LimitLevel{Side: side, Price: price}
}

func (l *LimitLevel) Empty() bool { return l.count == 0 }
func (l *LimitLevel) Len() int    { return l.count }

// append adds order to the tail of the queue and folds its quantity into
// the level's size and member-class counters (invariant I2).
func (l *LimitLevel) append(o *Order) {
	o.prev = l.tail
	o.next = nil
	o.level = l
	if l.tail != nil {
		l.tail.next = o
	} else {
		l.head = o
	}
	l.tail = o
	l.count++

	displayed := o.displayedQty()
	hidden := o.RemainingQty - displayed
	l.adjustSize(o.Member, int64(o.RemainingQty), int64(displayed), int64(hidden))
}

// pop unlinks order from the queue (wherever it sits) and removes its
// quantity contribution from the level's counters. It does not remove the
// level itself even if now empty — the caller (OrderBook) decides that.
func (l *LimitLevel) pop(o *Order) {
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		l.head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	} else {
		l.tail = o.prev
	}
	o.prev, o.next, o.level = nil, nil, nil
	l.count--

	displayed := o.displayedQty()
	hidden := o.RemainingQty - displayed
	l.adjustSize(o.Member, -int64(o.RemainingQty), -int64(displayed), -int64(hidden))
}

// adjustSize applies a signed delta to the level's aggregate size and to
// exactly one of the six {disclosed,hidden} x {HFT,MIX,NON} counters,
// selected by member. Deltas may be negative (fills, pops, resizes down).
func (l *LimitLevel) adjustSize(member MemberClass, deltaSize, deltaDisclosed, deltaHidden int64) {
	l.Size = addDelta(l.Size, deltaSize)
	switch member {
	case MemberHFT:
		l.DisclosedHFT = addDelta(l.DisclosedHFT, deltaDisclosed)
		l.HiddenHFT = addDelta(l.HiddenHFT, deltaHidden)
	case MemberMIX:
		l.DisclosedMIX = addDelta(l.DisclosedMIX, deltaDisclosed)
		l.HiddenMIX = addDelta(l.HiddenMIX, deltaHidden)
	default:
		l.DisclosedNON = addDelta(l.DisclosedNON, deltaDisclosed)
		l.HiddenNON = addDelta(l.HiddenNON, deltaHidden)
	}
}

func addDelta(v uint64, delta int64) uint64 {
	if delta >= 0 {
		return v + uint64(delta)
	}
	return v - uint64(-delta)
}
