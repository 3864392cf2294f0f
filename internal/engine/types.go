package engine

import "github.com/shopspring/decimal"

// Side is the resting side of an order or price level.
type Side byte

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// Kind is the order type as carried by the exchange tapes.
type Kind byte

const (
	KindMarket        Kind = '1' // market
	KindLimit         Kind = '2' // limit
	KindStopMarket    Kind = '3' // stop market
	KindStopLimit     Kind = '4' // stop limit
	KindPegged        Kind = 'P' // pegged
	KindMarketToLimit Kind = 'K' // market-to-limit
)

// IsStop reports whether the kind is a contingent stop order.
func (k Kind) IsStop() bool {
	return k == KindStopMarket || k == KindStopLimit
}

// MemberClass is the source-declared latency class of the order submitter.
type MemberClass byte

const (
	MemberHFT MemberClass = iota
	MemberMIX
	MemberNON
)

func ParseMemberClass(s string) MemberClass {
	switch s {
	case "HFT":
		return MemberHFT
	case "MIX":
		return MemberMIX
	default:
		return MemberNON
	}
}

func (m MemberClass) String() string {
	switch m {
	case MemberHFT:
		return "HFT"
	case MemberMIX:
		return "MIX"
	default:
		return "NON"
	}
}

// Validity codes recognized on the wire. Only '7' (closing-auction only)
// changes book routing. '2' (day, eligible for both auctions) and all other
// codes behave like an ordinary day order: '2' orders are not tracked
// separately and are not removed after the opening cross.
const (
	ValidityAuctionDay   = "2"
	ValidityClosingOnly  = "7"
)

// Reserved sentinel prices used to synthesize priority for market-kind
// orders before they acquire a real touch price. These must never collide
// with a real limit price.
var (
	SentinelBuyPrice  = decimal.NewFromInt(100_000)
	SentinelSellPrice = decimal.Zero
)

// exitState values from the exit tape. State '2' means "removed by trade"
// and is skipped by the cancel sweep — that removal is instead effected
// when the matching tape trade is consumed.
const exitStateTrade = '2'
