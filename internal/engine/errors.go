package engine

import "errors"

var (
	// ErrOrderNotFound is returned by the MODIFY path when its fid has no
	// resting order. Process checks the order index first and routes an
	// unknown fid to the ADD path, so it does not surface through Process.
	ErrOrderNotFound = errors.New("engine: order not found")

	// ErrUnresolvedAuctionPrice is fatal for the day: the three uncrossing
	// rules left more than one candidate price standing.
	ErrUnresolvedAuctionPrice = errors.New("engine: unresolved auction price")

	// ErrUnknownOrderState marks a message whose order state the engine
	// does not recognize; callers log and skip.
	ErrUnknownOrderState = errors.New("engine: unknown order state")

	// ErrContingentNotFound is a soft failure: removal of a stop/pegged
	// order that isn't currently tracked.
	ErrContingentNotFound = errors.New("engine: contingent order not found")
)
