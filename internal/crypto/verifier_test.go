package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluster/fluster/internal/domain"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func testPayload() BetPayload {
	return BetPayload{
		ThreadID:        "thread-1",
		PoolID:          "pool-1",
		Direction:       domain.DirectionUp,
		Leverage:        5,
		AmountIn:        1000,
		DurationSeconds: 300,
	}
}

func TestVerifyBet_RoundTrip(t *testing.T) {
	signer, err := NewBetSigner(testKeyHex)
	require.NoError(t, err)

	sig, err := signer.Sign(testPayload())
	require.NoError(t, err)

	assert.NoError(t, VerifyBet(testPayload(), sig, signer.Address().Hex()))
}

func TestVerifyBet_TamperedPayload(t *testing.T) {
	signer, err := NewBetSigner(testKeyHex)
	require.NoError(t, err)

	sig, err := signer.Sign(testPayload())
	require.NoError(t, err)

	p := testPayload()
	p.AmountIn = 2000
	assert.ErrorIs(t, VerifyBet(p, sig, signer.Address().Hex()), domain.ErrInvalidSignature)

	p = testPayload()
	p.Direction = domain.DirectionDown
	assert.ErrorIs(t, VerifyBet(p, sig, signer.Address().Hex()), domain.ErrInvalidSignature)
}

func TestVerifyBet_WrongOwner(t *testing.T) {
	signer, err := NewBetSigner(testKeyHex)
	require.NoError(t, err)

	sig, err := signer.Sign(testPayload())
	require.NoError(t, err)

	err = VerifyBet(testPayload(), sig, "0x0000000000000000000000000000000000000001")
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestVerifyBet_MalformedSignature(t *testing.T) {
	owner := "0x0000000000000000000000000000000000000001"
	assert.ErrorIs(t, VerifyBet(testPayload(), "", owner), domain.ErrInvalidSignature)
	assert.ErrorIs(t, VerifyBet(testPayload(), "0xdeadbeef", owner), domain.ErrInvalidSignature)
	assert.ErrorIs(t, VerifyBet(testPayload(), "not-hex", owner), domain.ErrInvalidSignature)
}

func TestRecoverSigner(t *testing.T) {
	signer, err := NewBetSigner(testKeyHex)
	require.NoError(t, err)

	sig, err := signer.Sign(testPayload())
	require.NoError(t, err)

	addr, err := RecoverSigner(testPayload(), sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), addr)
}

func TestBetPayload_DigestDistinct(t *testing.T) {
	base := testPayload().Digest()

	p := testPayload()
	p.ThreadID = "thread-2"
	assert.NotEqual(t, base, p.Digest())

	p = testPayload()
	p.Leverage = 6
	assert.NotEqual(t, base, p.Digest())
}

func TestVerifyTransfer_RoundTrip(t *testing.T) {
	signer, err := NewBetSigner(testKeyHex)
	require.NoError(t, err)

	payload := TransferPayload{Action: "withdraw", Asset: "SOL", Amount: 500}
	sig, err := signer.SignTransfer(payload)
	require.NoError(t, err)

	assert.NoError(t, VerifyTransfer(payload, sig, signer.Address().Hex()))

	// an action swap invalidates the signature even with equal amounts
	assert.ErrorIs(t,
		VerifyTransfer(TransferPayload{Action: "deposit", Asset: "SOL", Amount: 500}, sig, signer.Address().Hex()),
		domain.ErrInvalidSignature,
	)
}

func TestNewBetSigner_InvalidKey(t *testing.T) {
	_, err := NewBetSigner("zz")
	assert.Error(t, err)
}
