// Package crypto provides the program-derived signing authority, bet payload
// signature verification, and secret management for the betting service.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/fluster/fluster/internal/domain"
)

// AuthSeed is the canonical derivation seed for the vault signing authority.
// It is a single source of truth shared by pool creation and every transfer.
const AuthSeed = "vault_auth_seed"

// UserSeed is the derivation seed for per-user custody account addresses.
const UserSeed = "user_auth_seed"

// Authority is a capability proving the holder may move funds out of
// program-controlled custody accounts. It carries a deterministic address and
// an opaque proof; business logic passes it around but can never mint one,
// because only the Keyring holds the program secret.
type Authority struct {
	address string
	proof   []byte
}

// Address returns the derived authority address.
func (a Authority) Address() string {
	return a.address
}

// Keyring holds the program secret and derives authority capabilities from
// it. The secret never leaves this package.
type Keyring struct {
	secret []byte
}

// NewKeyring creates a Keyring from the program secret.
func NewKeyring(secret []byte) (*Keyring, error) {
	if len(secret) == 0 {
		return nil, errors.New("crypto: authority secret must not be empty")
	}
	return &Keyring{secret: secret}, nil
}

// Derive produces the authority capability for the given seed and bump. The
// same (seed, bump) always derives the same address, so the address recorded
// at pool creation can be recomputed and checked at transfer time.
func (k *Keyring) Derive(seed string, bump uint8) Authority {
	mac := k.mac(seed, bump)
	return Authority{
		address: DeriveAddress(seed, bump),
		proof:   mac,
	}
}

// Verify checks that the capability was derived from this keyring with the
// exact (seed, bump) used when the vault was created. A mismatched derivation
// fails with domain.ErrAuthorityMismatch.
func (k *Keyring) Verify(a Authority, seed string, bump uint8) error {
	if a.address != DeriveAddress(seed, bump) {
		return domain.ErrAuthorityMismatch
	}
	if !hmac.Equal(a.proof, k.mac(seed, bump)) {
		return domain.ErrAuthorityMismatch
	}
	return nil
}

func (k *Keyring) mac(seed string, bump uint8) []byte {
	mac := hmac.New(sha256.New, k.secret)
	mac.Write([]byte(seed))
	mac.Write([]byte{bump})
	return mac.Sum(nil)
}

// DeriveAddress returns the deterministic, non-key-held address for a
// (seed, bump) derivation. It is public input, not a credential: deriving the
// address does not grant the capability to sign for it.
func DeriveAddress(seed string, bump uint8) string {
	sum := sha256.Sum256(append([]byte(seed), bump))
	return hex.EncodeToString(sum[:20])
}

// DeriveUserAccountAddress returns the custody account address for one
// (owner, asset) pair, mirroring the user seed derivation used at deposit.
func DeriveUserAccountAddress(owner, asset string) string {
	h := sha256.New()
	h.Write([]byte(UserSeed))
	h.Write([]byte(owner))
	h.Write([]byte(asset))
	return hex.EncodeToString(h.Sum(nil)[:20])
}
