package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is the mutable record for a single resting or contingent order.
// FID is the fundamental id, stable across the order's life. prev/next/level
// are the intrusive links that let the order sit in exactly one LimitLevel's
// FIFO queue at a time (spec invariant I6).
type Order struct {
	FID    int64
	Side   Side
	Kind   Kind
	Member MemberClass

	Price     decimal.Decimal // p
	StopPrice decimal.Decimal // pstop, 0 if none

	InitialQty    uint64 // qi
	RemainingQty  uint64 // qr
	NegotiatedQty uint64 // qn
	MinExecQty    uint64 // qmin
	DisclosedQty  uint64 // qd, iceberg peak

	Account    string
	Validity   string
	BookEntry  time.Time // tbe, time priority key
	ValidTime  time.Time // tva, message effective time
	Expiration time.Time

	prev, next *Order
	level      *LimitLevel
}

// fill reduces an order's remaining quantity by q, shrinking its iceberg
// disclosed cap as the remainder shrinks, and propagates the size deltas to
// the owning level's six counters. Precondition: q <= RemainingQty.
func (o *Order) fill(q uint64) {
	qdBefore := o.DisclosedQty
	o.RemainingQty -= q
	o.NegotiatedQty += q
	o.DisclosedQty = min(o.DisclosedQty, o.RemainingQty)

	deltaDisclosed := qdBefore - o.DisclosedQty
	deltaHidden := q - deltaDisclosed

	if o.level != nil {
		o.level.adjustSize(o.Member, -int64(q), -int64(deltaDisclosed), -int64(deltaHidden))
	}
}

// overwriteNegotiated carries a pre-existing filled quantity onto a
// freshly-inserted order node, used when a price/stop change forces a
// remove-then-reinsert and the partial-fill history must survive it.
func (o *Order) overwriteNegotiated(qNeg uint64) {
	o.NegotiatedQty = qNeg
	o.RemainingQty = o.InitialQty - qNeg

	oldDisclosed := o.DisclosedQty
	o.DisclosedQty = min(o.DisclosedQty, o.RemainingQty)

	deltaDisclosed := oldDisclosed - o.DisclosedQty
	deltaHidden := qNeg - deltaDisclosed

	if o.level != nil {
		o.level.adjustSize(o.Member, -int64(qNeg), -int64(deltaDisclosed), -int64(deltaHidden))
	}
}

// displayedQty is the disclosed portion of the remaining quantity: the
// iceberg peak capped by what's actually left.
func (o *Order) displayedQty() uint64 {
	return min(o.DisclosedQty, o.RemainingQty)
}
