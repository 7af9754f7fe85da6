package domain

import "time"

// Direction is the side of a directional bet: will the price go up or down.
type Direction uint8

const (
	DirectionDown Direction = 0
	DirectionUp   Direction = 1
)

// String returns a human-readable direction for logs and API responses.
func (d Direction) String() string {
	if d == DirectionUp {
		return "up"
	}
	return "down"
}

// Valid reports whether d is one of the two defined directions.
func (d Direction) Valid() bool {
	return d == DirectionUp || d == DirectionDown
}

// PositionStatus tracks the lifecycle of a betting position.
type PositionStatus string

const (
	PositionStatusOpen PositionStatus = "open"
	// PositionStatusSettled is reached by the settlement entry point, which
	// is invoked by the automation dispatcher after expiry.
	PositionStatusSettled PositionStatus = "settled"
)

// BettingPosition is a user's single leveraged bet within a pool. There is at
// most one per (pool, owner) pair; reopening overwrites the prior record.
type BettingPosition struct {
	ID            string
	PoolID        string
	Owner         string
	Direction     Direction
	AmountAtRisk  uint64 // collateral actually custodied: floor(Notional / Leverage)
	Notional      uint64 // original amount_in, retained for payout math
	Leverage      uint8
	EntryPrice    uint64 // raw oracle mantissa; never the normalized float
	EntryExponent int32  // decimal exponent to apply at settlement
	ThreadID      string // id of the one-shot settlement trigger
	Status        PositionStatus
	ExpiresAt     time.Time
	OpenedAt      time.Time
}
