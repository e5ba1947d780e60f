package crypto

import (
	"strings"
	"testing"
)

func testOrderPayload() OrderPayload {
	return OrderPayload{
		Salt:          "12345",
		Maker:         "0x56778aEf96Cfa73698a8b5Aa1Dc5C0e9fa4e9c1a",
		Signer:        "0x56778aEf96Cfa73698a8b5Aa1Dc5C0e9fa4e9c1a",
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       "71321045679252212594626385532706912750332728571942532289631379312455583992563",
		MakerAmount:   "45000000",
		TakerAmount:   "100000000",
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          0,
		SignatureType: 0,
	}
}

func TestNewSigner(t *testing.T) {
	s, err := NewSigner("0x"+testKeyHex, 137)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	if s.Address().Hex() == "0x0000000000000000000000000000000000000000" {
		t.Fatal("zero address derived")
	}

	if _, err := NewSigner("not-hex", 137); err == nil {
		t.Fatal("invalid key accepted")
	}
}

func TestSignOrderDeterministic(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	sig1, err := s.SignOrder(testOrderPayload())
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}
	if !strings.HasPrefix(sig1, "0x") || len(sig1) != 2+130 {
		t.Fatalf("signature format: %q (len %d)", sig1, len(sig1))
	}
	// v must be 27 or 28.
	switch sig1[len(sig1)-2:] {
	case "1b", "1c":
	default:
		t.Fatalf("recovery byte = %s", sig1[len(sig1)-2:])
	}

	sig2, err := s.SignOrder(testOrderPayload())
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}
	if sig1 != sig2 {
		t.Fatal("same payload produced different signatures")
	}

	changed := testOrderPayload()
	changed.MakerAmount = "46000000"
	sig3, err := s.SignOrder(changed)
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}
	if sig3 == sig1 {
		t.Fatal("different payloads produced the same signature")
	}
}

func TestSignOrderRejectsBadNumbers(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	bad := testOrderPayload()
	bad.Salt = "not-a-number"
	if _, err := s.SignOrder(bad); err == nil {
		t.Fatal("invalid salt accepted")
	}

	bad = testOrderPayload()
	bad.TokenID = ""
	if _, err := s.SignOrder(bad); err == nil {
		t.Fatal("empty tokenId accepted")
	}
}

func TestSignAuthMessage(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	sig1, err := s.SignAuthMessage(s.Address().Hex(), 1700000000, 0)
	if err != nil {
		t.Fatalf("SignAuthMessage: %v", err)
	}
	sig2, err := s.SignAuthMessage(s.Address().Hex(), 1700000000, 0)
	if err != nil {
		t.Fatalf("SignAuthMessage: %v", err)
	}
	if sig1 != sig2 {
		t.Fatal("auth signature not deterministic")
	}

	other, err := s.SignAuthMessage(s.Address().Hex(), 1700000001, 0)
	if err != nil {
		t.Fatalf("SignAuthMessage: %v", err)
	}
	if other == sig1 {
		t.Fatal("different timestamps produced the same signature")
	}
}
