package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is the canonical trade record emitted by the engine, either as an
// auction uncrossing fill or as a continuous-trading fill consumed off the
// reconciliation tape. SeqNo is a per-book monotonically increasing counter
// (spec §9: "replace [the original's class-level counter] with a per-book
// monotonically increasing counter to keep books independent across
// threads").
type Trade struct {
	SeqNo   uint64
	BidFID  int64
	AskFID  int64
	Qty     uint64
	Price   decimal.Decimal
	Time    time.Time
	BidType MemberClass
	AskType MemberClass
}

// TradeRecord is one row of the exchange's recorded trade tape (§6), used as
// ground truth for reconciliation (§4.5) rather than reproduced by the
// engine's own matching logic.
type TradeRecord struct {
	Time      time.Time
	BidFID    int64
	AskFID    int64
	Qty       uint64
	Price     decimal.Decimal
	Aggressor byte // 'A' buy-aggressor, 'V' sell-aggressor, '2' auction-leftover
}

// ExitRecord is one row of the exchange's order-exit tape (§6): when an
// order left the book and why.
type ExitRecord struct {
	BookReleaseTime time.Time // tbr
	FID             int64
	Side            Side
	State           byte
}
