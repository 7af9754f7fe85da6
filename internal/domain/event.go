package domain

// OrderPlaced is emitted exactly once per successful bet, after all state
// commits, for external observers and indexers.
type OrderPlaced struct {
	Event              string    `json:"event"` // always "order_placed"
	PositionID         string    `json:"position_id"`
	PoolID             string    `json:"pool_id"`
	VaultBalanceBefore uint64    `json:"vault_balance_before"`
	Direction          Direction `json:"direction"`
	AmountIn           uint64    `json:"amount_in"`
	Leverage           uint8     `json:"leverage"`
	DurationSeconds    uint64    `json:"duration_seconds"`
}
