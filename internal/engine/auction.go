package engine

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Auction tracks one of the book's two call-auction instants (opening or
// closing) and the price it uncrossed at, once run.
type Auction struct {
	Time    time.Time
	Passed  bool
	Price   decimal.Decimal
	NoCross bool
	Volume  uint64
}

// auctionCandidate is one candidate uncrossing price with its executable
// volume and signed imbalance: imbalance = CB(p) - CS(p) (spec §4.4),
// positive meaning a buy-side residual, negative a sell-side residual.
type auctionCandidate struct {
	price     decimal.Decimal
	volume    uint64
	imbalance int64
}

// runAuction discovers the uncrossing price by the rules applied in
// selectUncrossingPrice (maximize executed volume, minimize |imbalance|,
// break remaining ties on the imbalance sign, fail on mixed signs) and
// executes the resulting cross. It is the sole caller of the
// price-discovery math below; OrderBook.checkAuctions invokes it once per
// auction instant as the book clock crosses it.
func (b *OrderBook) runAuction(a *Auction) error {
	if a == b.closingAuction {
		for _, o := range b.validForClosing {
			if _, stillResting := b.orderIndex[o.FID]; stillResting {
				b.addLimitOrder(o)
			}
		}
		b.validForClosing = nil
	}

	bidLevels := b.levelsDescending(b.bids)
	askLevels := b.levelsAscending(b.asks)

	if len(bidLevels) == 0 || len(askLevels) == 0 {
		a.Passed = true
		a.NoCross = true
		return nil
	}

	candidates := b.buildCandidates(bidLevels, askLevels)

	winner, err := selectUncrossingPrice(candidates)
	if err != nil {
		return err
	}

	a.Passed = true
	a.Price = winner.price
	a.Volume = winner.volume
	a.NoCross = winner.volume == 0
	if winner.volume == 0 {
		return nil
	}

	b.executeCross(winner.price, winner.volume, a.Time)
	b.repegAll()
	return nil
}

// levelsDescending/levelsAscending materialize a btree side into a plain
// slice for the price-discovery sweep, which needs random indexed access
// that the tree's Scan callback doesn't offer.
func (b *OrderBook) levelsDescending(side *PriceLevels) []*LimitLevel {
	var out []*LimitLevel
	side.Scan(func(l *LimitLevel) bool {
		out = append(out, l)
		return true
	})
	return out // bids tree already orders highest price first
}

func (b *OrderBook) levelsAscending(side *PriceLevels) []*LimitLevel {
	var out []*LimitLevel
	side.Scan(func(l *LimitLevel) bool {
		out = append(out, l)
		return true
	})
	return out // asks tree already orders lowest price first
}

// peggedQtyByPrice buckets every resting pegged order's remaining quantity
// by (side, price) in a single pass, so buildCandidates can subtract pegged
// interest from each level in O(1) instead of rescanning peggedIndex per
// level: pegged interest tracks the touch rather than expressing a price
// view, so it is excluded from the demand/supply curves used for price
// discovery (spec's resolution of the pegged-participation question).
func (b *OrderBook) peggedQtyByPrice(side Side) map[string]uint64 {
	out := make(map[string]uint64, len(b.peggedIndex))
	for _, o := range b.peggedIndex {
		if o.Side == side {
			out[tickKey(o.Price)] += o.RemainingQty
		}
	}
	return out
}

// buildCandidates computes, for every distinct price touched by either
// side, the cumulative demand (bid qty at prices >= p) and cumulative
// supply (ask qty at prices <= p) and the resulting executable volume. This
// replaces the source's pandas cumulative-curve construction with a plain
// two-pass merge over the book's own ordered levels.
func (b *OrderBook) buildCandidates(bidLevels, askLevels []*LimitLevel) []auctionCandidate {
	peggedBid := b.peggedQtyByPrice(Bid)
	peggedAsk := b.peggedQtyByPrice(Ask)

	// bidLevels is highest-first; adjustedBid[i] pairs with bidLevels[i].
	adjustedBid := make([]uint64, len(bidLevels))
	for i, l := range bidLevels {
		adjustedBid[i] = l.Size - peggedBid[tickKey(l.Price)]
	}
	// prefixBid[i] = demand at price >= bidLevels[i].Price (indices 0..i are
	// all the equal-or-higher-priced levels, since the slice is descending).
	prefixBid := make([]uint64, len(bidLevels))
	var running uint64
	for i, q := range adjustedBid {
		running += q
		prefixBid[i] = running
	}

	// askLevels is lowest-first; prefixAsk[i] = supply at price <= askLevels[i].Price
	adjustedAsk := make([]uint64, len(askLevels))
	for i, l := range askLevels {
		adjustedAsk[i] = l.Size - peggedAsk[tickKey(l.Price)]
	}
	prefixAsk := make([]uint64, len(askLevels))
	running = 0
	for i, q := range adjustedAsk {
		running += q
		prefixAsk[i] = running
	}

	prices := candidatePrices(bidLevels, askLevels)

	candidates := make([]auctionCandidate, 0, len(prices))
	for _, p := range prices {
		cb := demandAt(bidLevels, prefixBid, p)
		cs := supplyAt(askLevels, prefixAsk, p)
		vol := min(cb, cs)
		imbalance := int64(cb) - int64(cs)
		candidates = append(candidates, auctionCandidate{price: p, volume: vol, imbalance: imbalance})
	}
	return candidates
}

// demandAt finds cumulative bid quantity at prices >= p. bidLevels is
// descending, so the qualifying levels are a prefix of the slice; Search
// returns the index one past the last qualifying level.
func demandAt(bidLevels []*LimitLevel, prefixBid []uint64, p decimal.Decimal) uint64 {
	idx := sort.Search(len(bidLevels), func(i int) bool {
		return bidLevels[i].Price.LessThan(p)
	})
	if idx == 0 {
		return 0
	}
	return prefixBid[idx-1]
}

// supplyAt finds cumulative ask quantity at prices <= p via binary search
// over the (lowest-first) level slice.
func supplyAt(askLevels []*LimitLevel, prefixAsk []uint64, p decimal.Decimal) uint64 {
	idx := sort.Search(len(askLevels), func(i int) bool {
		return askLevels[i].Price.GreaterThan(p)
	}) - 1
	if idx < 0 {
		return 0
	}
	return prefixAsk[idx]
}

func candidatePrices(bidLevels, askLevels []*LimitLevel) []decimal.Decimal {
	seen := make(map[string]decimal.Decimal, len(bidLevels)+len(askLevels))
	for _, l := range bidLevels {
		seen[tickKey(l.Price)] = l.Price
	}
	for _, l := range askLevels {
		seen[tickKey(l.Price)] = l.Price
	}
	out := make([]decimal.Decimal, 0, len(seen))
	for _, p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LessThan(out[j]) })
	return out
}

// selectUncrossingPrice applies the four uncrossing rules in order (spec
// §4.4): maximize executed volume; among those, minimize |imbalance|;
// among those, break the tie on the sign of the (now common-magnitude)
// imbalance — buy-side residual picks the maximum price, sell-side residual
// the minimum, a perfectly balanced book picks the maximum; and finally, if
// the min-|imbalance| tier still holds more than one distinct signed
// imbalance value, rule 3 cannot be applied uniformly and the price is
// unresolved (rule 4: fail loudly rather than silently guess).
func selectUncrossingPrice(candidates []auctionCandidate) (auctionCandidate, error) {
	tier := maxVolumeTier(candidates)
	if tier[0].volume == 0 {
		// Book never crosses: no executable volume at any price, so which
		// candidate "wins" is moot.
		return tier[0], nil
	}
	if len(tier) == 1 {
		return tier[0], nil
	}

	tier = minAbsImbalanceTier(tier)
	if len(tier) == 1 {
		return tier[0], nil
	}

	imbalance := tier[0].imbalance
	for _, c := range tier[1:] {
		if c.imbalance != imbalance {
			return auctionCandidate{}, ErrUnresolvedAuctionPrice
		}
	}

	if imbalance < 0 {
		return minPriceTier(tier), nil
	}
	return maxPriceTier(tier), nil
}

func maxVolumeTier(candidates []auctionCandidate) []auctionCandidate {
	var best uint64
	for _, c := range candidates {
		if c.volume > best {
			best = c.volume
		}
	}
	var out []auctionCandidate
	for _, c := range candidates {
		if c.volume == best {
			out = append(out, c)
		}
	}
	return out
}

func minAbsImbalanceTier(candidates []auctionCandidate) []auctionCandidate {
	best := absInt64(candidates[0].imbalance)
	for _, c := range candidates {
		if a := absInt64(c.imbalance); a < best {
			best = a
		}
	}
	var out []auctionCandidate
	for _, c := range candidates {
		if absInt64(c.imbalance) == best {
			out = append(out, c)
		}
	}
	return out
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func maxPriceTier(candidates []auctionCandidate) auctionCandidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.price.GreaterThan(best.price) {
			best = c
		}
	}
	return best
}

func minPriceTier(candidates []auctionCandidate) auctionCandidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.price.LessThan(best.price) {
			best = c
		}
	}
	return best
}

// executeCross matches resting non-pegged orders on both sides of price,
// in price-then-time priority, until volume has been exhausted. Pegged
// orders never participate in the cross itself — they track the new touch
// and are repositioned by repegAll once the cross settles.
func (b *OrderBook) executeCross(price decimal.Decimal, volume uint64, at time.Time) {
	bidOrders := b.collectCrossable(b.bids, price, Bid)
	askOrders := b.collectCrossable(b.asks, price, Ask)

	remaining := volume
	i, j := 0, 0
	for remaining > 0 && i < len(bidOrders) && j < len(askOrders) {
		bidO, askO := bidOrders[i], askOrders[j]
		q := min(bidO.RemainingQty, askO.RemainingQty, remaining)

		b.tradeSeq++
		b.Trades = append(b.Trades, Trade{
			SeqNo:   b.tradeSeq,
			BidFID:  bidO.FID,
			AskFID:  askO.FID,
			Qty:     q,
			Price:   price,
			Time:    at,
			BidType: bidO.Member,
			AskType: askO.Member,
		})

		b.fillOrder(bidO.FID, q)
		b.fillOrder(askO.FID, q)
		remaining -= q

		if bidO.RemainingQty == 0 {
			i++
		}
		if askO.RemainingQty == 0 {
			j++
		}
	}

	b.lastTradePrice = price
}

// collectCrossable walks side in priority order down to (and including)
// the uncrossing price, returning every resting non-pegged order touched.
func (b *OrderBook) collectCrossable(side *PriceLevels, price decimal.Decimal, s Side) []*Order {
	var out []*Order
	side.Scan(func(l *LimitLevel) bool {
		if s == Bid && l.Price.LessThan(price) {
			return false
		}
		if s == Ask && l.Price.GreaterThan(price) {
			return false
		}
		for o := l.head; o != nil; o = o.next {
			if o.Kind == KindPegged {
				continue
			}
			out = append(out, o)
		}
		return true
	})
	return out
}
