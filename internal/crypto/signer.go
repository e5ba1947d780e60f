package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Pre-computed keccak256 hashes of the canonical EIP-712 type strings used
// by the CLOB.
var (
	domainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)
	authTypeHash = ethcrypto.Keccak256(
		[]byte("ClobAuth(address address,uint256 timestamp,uint256 nonce)"),
	)
	orderTypeHash = ethcrypto.Keccak256(
		[]byte("Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)"),
	)
)

// OrderPayload carries the twelve signed fields of a CLOB limit order.
// Addresses and uint256 values travel as decimal or hex strings so no
// precision is lost on the JSON wire.
type OrderPayload struct {
	Salt          string `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          int    `json:"side"`          // 0 = BUY, 1 = SELL
	SignatureType int    `json:"signatureType"` // 0 = EOA
}

// Signer produces the EIP-712 signatures the CLOB requires for order
// placement and API key derivation.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int
	domainSep  []byte
}

// NewSigner builds a Signer from a hex secp256k1 key and chain ID
// (137 for Polygon mainnet, 80002 for Amoy).
func NewSigner(privateKeyHex string, chainID int) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	s := &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    chainID,
	}
	s.domainSep = domainSeparator("ClobAuthDomain", "1", chainID)
	return s, nil
}

// Address returns the wallet address derived from the private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignAuthMessage signs the ClobAuth struct used to derive an API key.
// The result is "0x" plus 65 hex-encoded bytes (r || s || v).
func (s *Signer) SignAuthMessage(address string, timestamp, nonce int64) (string, error) {
	structHash := hashFields(
		authTypeHash,
		addressWord(address),
		uintWord(big.NewInt(timestamp)),
		uintWord(big.NewInt(nonce)),
	)
	return s.signTyped(s.domainSep, structHash)
}

// SignOrder signs a limit order struct for submission to the CLOB.
func (s *Signer) SignOrder(order OrderPayload) (string, error) {
	structHash, err := orderHash(order)
	if err != nil {
		return "", err
	}
	return s.signTyped(domainSeparator("ClobAuthDomain", "1", s.chainID), structHash)
}

// signTyped computes keccak256("\x19\x01" || domainSep || structHash) and
// signs it, mapping the recovery byte into the {27,28} range EIP-712
// verifiers expect.
func (s *Signer) signTyped(domainSep, structHash []byte) (string, error) {
	digest := hashFields([]byte{0x19, 0x01}, domainSep, structHash)
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

func domainSeparator(name, version string, chainID int) []byte {
	return hashFields(
		domainTypeHash,
		ethcrypto.Keccak256([]byte(name)),
		ethcrypto.Keccak256([]byte(version)),
		uintWord(big.NewInt(int64(chainID))),
	)
}

func orderHash(o OrderPayload) ([]byte, error) {
	fields := []struct {
		name  string
		value string
	}{
		{"salt", o.Salt},
		{"tokenId", o.TokenID},
		{"makerAmount", o.MakerAmount},
		{"takerAmount", o.TakerAmount},
		{"expiration", o.Expiration},
		{"nonce", o.Nonce},
		{"feeRateBps", o.FeeRateBps},
	}
	nums := make([]*big.Int, len(fields))
	for i, f := range fields {
		n, ok := new(big.Int).SetString(f.value, 10)
		if !ok {
			return nil, fmt.Errorf("crypto/signer: invalid %s %q", f.name, f.value)
		}
		nums[i] = n
	}

	return hashFields(
		orderTypeHash,
		uintWord(nums[0]),
		addressWord(o.Maker),
		addressWord(o.Signer),
		addressWord(o.Taker),
		uintWord(nums[1]),
		uintWord(nums[2]),
		uintWord(nums[3]),
		uintWord(nums[4]),
		uintWord(nums[5]),
		uintWord(nums[6]),
		uintWord(big.NewInt(int64(o.Side))),
		uintWord(big.NewInt(int64(o.SignatureType))),
	), nil
}

// hashFields is keccak256 over the concatenation of its arguments.
func hashFields(parts ...[]byte) []byte {
	var buf []byte
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return ethcrypto.Keccak256(buf)
}

// uintWord encodes n as a 32-byte big-endian ABI word.
func uintWord(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	return common.LeftPadBytes(b, 32)
}

// addressWord encodes a hex address as a 32-byte ABI word.
func addressWord(addr string) []byte {
	return common.LeftPadBytes(common.HexToAddress(addr).Bytes(), 32)
}
