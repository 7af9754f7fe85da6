package domain

import "time"

// PoolStatusBit indexes a single flag inside Pool.StatusBits.
type PoolStatusBit uint8

const (
	PoolStatusDeposit  PoolStatusBit = 0
	PoolStatusWithdraw PoolStatusBit = 1
	PoolStatusBet      PoolStatusBit = 2
)

// Pool is the configuration and custody context for one tradable asset.
// The betting pipeline treats it as read-only policy; only pool
// administration mutates it.
type Pool struct {
	ID              string
	TokenMint       string // asset identifier
	TokenVault      string // custody account address holding pooled collateral
	FeeVault        string // custody account address collecting automation fees
	TokenOracle     string // price feed reference
	TokenDecimals   uint8
	MaxLeverage     uint8
	ProtocolFeeRate uint16 // basis points
	StatusBits      uint8
	AuthorityBump   uint8 // bump used when the signing authority was derived
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// StatusEnabled reports whether the given flag bit is set. An operation is
// permitted only when its bit is set.
func (p Pool) StatusEnabled(bit PoolStatusBit) bool {
	return p.StatusBits&(1<<bit) != 0
}

// SetStatus flips a single flag bit on or off.
func (p *Pool) SetStatus(bit PoolStatusBit, enabled bool) {
	if enabled {
		p.StatusBits |= 1 << bit
	} else {
		p.StatusBits &^= 1 << bit
	}
}
