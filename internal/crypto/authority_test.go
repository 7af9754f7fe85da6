package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluster/fluster/internal/domain"
)

func TestKeyring_DeriveVerify(t *testing.T) {
	k, err := NewKeyring([]byte("program-secret"))
	require.NoError(t, err)

	auth := k.Derive(AuthSeed, 254)
	assert.Equal(t, DeriveAddress(AuthSeed, 254), auth.Address())
	assert.NoError(t, k.Verify(auth, AuthSeed, 254))
}

func TestKeyring_VerifyWrongDerivation(t *testing.T) {
	k, err := NewKeyring([]byte("program-secret"))
	require.NoError(t, err)

	auth := k.Derive(AuthSeed, 254)
	assert.ErrorIs(t, k.Verify(auth, AuthSeed, 253), domain.ErrAuthorityMismatch)
	assert.ErrorIs(t, k.Verify(auth, UserSeed, 254), domain.ErrAuthorityMismatch)
}

func TestKeyring_VerifyForeignCapability(t *testing.T) {
	ours, err := NewKeyring([]byte("program-secret"))
	require.NoError(t, err)
	theirs, err := NewKeyring([]byte("other-secret"))
	require.NoError(t, err)

	// same (seed, bump), different program secret: the address matches but
	// the proof must not
	foreign := theirs.Derive(AuthSeed, 254)
	assert.ErrorIs(t, ours.Verify(foreign, AuthSeed, 254), domain.ErrAuthorityMismatch)
}

func TestNewKeyring_EmptySecret(t *testing.T) {
	_, err := NewKeyring(nil)
	assert.Error(t, err)
}

func TestDeriveAddress_Deterministic(t *testing.T) {
	assert.Equal(t, DeriveAddress(AuthSeed, 1), DeriveAddress(AuthSeed, 1))
	assert.NotEqual(t, DeriveAddress(AuthSeed, 1), DeriveAddress(AuthSeed, 2))
	assert.Len(t, DeriveAddress(AuthSeed, 1), 40)
}

func TestDeriveUserAccountAddress(t *testing.T) {
	a := DeriveUserAccountAddress("owner-1", "SOL")
	assert.Equal(t, a, DeriveUserAccountAddress("owner-1", "SOL"))
	assert.NotEqual(t, a, DeriveUserAccountAddress("owner-2", "SOL"))
	assert.NotEqual(t, a, DeriveUserAccountAddress("owner-1", "ETH"))
}
