package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/fluster/fluster/internal/domain"
)

// betTypeHash is the pre-computed keccak256 of the canonical bet type string.
var betTypeHash = ethcrypto.Keccak256(
	[]byte("Bet(string threadId,string poolId,uint8 direction,uint8 leverage,uint64 amountIn,uint64 duration)"),
)

// BetPayload is the set of openBet fields the user signs. The signature gates
// position creation: only the account owner can put their collateral at risk.
type BetPayload struct {
	ThreadID        string
	PoolID          string
	Direction       domain.Direction
	Leverage        uint8
	AmountIn        uint64
	DurationSeconds uint64
}

// Digest returns the 32-byte hash the wallet signs.
func (p BetPayload) Digest() []byte {
	return ethcrypto.Keccak256(
		betTypeHash,
		ethcrypto.Keccak256([]byte(p.ThreadID)),
		ethcrypto.Keccak256([]byte(p.PoolID)),
		uint64To32Bytes(uint64(p.Direction)),
		uint64To32Bytes(uint64(p.Leverage)),
		uint64To32Bytes(p.AmountIn),
		uint64To32Bytes(p.DurationSeconds),
	)
}

// RecoverSigner recovers the Ethereum address that produced sigHex over the
// payload digest. It returns domain.ErrInvalidSignature on any malformed or
// unrecoverable signature.
func RecoverSigner(p BetPayload, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != 65 {
		return common.Address{}, domain.ErrInvalidSignature
	}

	// Normalise v from {27,28} back to the {0,1} go-ethereum expects.
	if sig[64] >= 27 {
		sig = append(append([]byte{}, sig[:64]...), sig[64]-27)
	}

	pub, err := ethcrypto.SigToPub(p.Digest(), sig)
	if err != nil {
		return common.Address{}, domain.ErrInvalidSignature
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifyBet checks that sigHex over the payload was produced by owner.
func VerifyBet(p BetPayload, sigHex, owner string) error {
	recovered, err := RecoverSigner(p, sigHex)
	if err != nil {
		return err
	}
	if recovered != common.HexToAddress(owner) {
		return domain.ErrInvalidSignature
	}
	return nil
}

// transferTypeHash is the pre-computed keccak256 of the canonical vault
// transfer type string.
var transferTypeHash = ethcrypto.Keccak256(
	[]byte("Transfer(string action,string asset,uint64 amount)"),
)

// TransferPayload is the set of deposit/withdraw fields the user signs.
type TransferPayload struct {
	Action string // "deposit", "withdraw" or "close"
	Asset  string
	Amount uint64
}

// Digest returns the 32-byte hash the wallet signs.
func (p TransferPayload) Digest() []byte {
	return ethcrypto.Keccak256(
		transferTypeHash,
		ethcrypto.Keccak256([]byte(p.Action)),
		ethcrypto.Keccak256([]byte(p.Asset)),
		uint64To32Bytes(p.Amount),
	)
}

// VerifyTransfer checks that sigHex over the payload was produced by owner.
func VerifyTransfer(p TransferPayload, sigHex, owner string) error {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != 65 {
		return domain.ErrInvalidSignature
	}
	if sig[64] >= 27 {
		sig = append(append([]byte{}, sig[:64]...), sig[64]-27)
	}
	pub, err := ethcrypto.SigToPub(p.Digest(), sig)
	if err != nil {
		return domain.ErrInvalidSignature
	}
	if ethcrypto.PubkeyToAddress(*pub) != common.HexToAddress(owner) {
		return domain.ErrInvalidSignature
	}
	return nil
}

// SignTransfer returns the hex-encoded signature over a vault transfer
// payload, v normalised to {27,28}.
func (s *BetSigner) SignTransfer(p TransferPayload) (string, error) {
	sig, err := ethcrypto.Sign(p.Digest(), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto: signing transfer payload: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// BetSigner signs bet payloads with a secp256k1 private key. The service only
// verifies; signing lives here for client tooling and tests.
type BetSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewBetSigner creates a BetSigner from a hex-encoded private key.
func NewBetSigner(privateKeyHex string) (*BetSigner, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return &BetSigner{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the Ethereum address derived from the signer's key.
func (s *BetSigner) Address() common.Address {
	return s.address
}

// Sign returns the hex-encoded 65-byte signature (r || s || v, v in {27,28})
// over the payload digest.
func (s *BetSigner) Sign(p BetPayload) (string, error) {
	sig, err := ethcrypto.Sign(p.Digest(), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto: signing bet payload: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

func uint64To32Bytes(v uint64) []byte {
	return common.LeftPadBytes(new(big.Int).SetUint64(v).Bytes(), 32)
}
