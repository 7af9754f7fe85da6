package domain

import "time"

// VaultAccount is a custody balance for one (owner, asset) pair. Balances are
// tracked by the vault's own bookkeeping; the account address is derived from
// the owner and asset so it can be recomputed by anyone.
type VaultAccount struct {
	Address   string
	Owner     string
	Asset     string // token mint
	Balance   uint64
	Decimals  uint8
	CreatedAt time.Time
	UpdatedAt time.Time
}
