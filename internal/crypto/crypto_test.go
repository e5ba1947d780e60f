package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testKeyHex, "correct horse")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}

	got, err := DecryptKey(blob, "correct horse")
	if err != nil {
		t.Fatalf("DecryptKey: %v", err)
	}
	if got != testKeyHex {
		t.Fatalf("decrypted key = %s, want %s", got, testKeyHex)
	}
}

func TestDecryptWrongPassword(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "right")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}
	if _, err := DecryptKey(blob, "wrong"); err == nil {
		t.Fatal("wrong password decrypted")
	}
	if _, err := DecryptKey(blob, ""); err == nil {
		t.Fatal("empty password decrypted")
	}
}

func TestEncryptKeyRejectsBadInput(t *testing.T) {
	if _, err := EncryptKey(testKeyHex, ""); err == nil {
		t.Fatal("empty password accepted")
	}
	if _, err := EncryptKey("not-hex", "pw"); err == nil {
		t.Fatal("non-hex key accepted")
	}
	if _, err := EncryptKey("abcd", "pw"); err == nil {
		t.Fatal("short key accepted")
	}
}

func TestDecryptKeyRejectsUnknownVersion(t *testing.T) {
	if _, err := DecryptKey([]byte(`{"version":99}`), "pw"); err == nil || !strings.Contains(err.Error(), "unsupported version") {
		t.Fatalf("unknown version accepted: %v", err)
	}
}

func TestLoadKeyPrecedence(t *testing.T) {
	// Raw key wins even when a file is configured, and the 0x prefix is
	// stripped.
	got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKeyHex, EncryptedKeyPath: "/nope"})
	if err != nil {
		t.Fatalf("LoadKey raw: %v", err)
	}
	if got != testKeyHex {
		t.Fatalf("LoadKey raw = %s", got)
	}

	if _, err := LoadKey(KeyConfig{RawPrivateKey: "zz"}); err == nil {
		t.Fatal("invalid raw hex accepted")
	}

	blob, err := EncryptKey(testKeyHex, "pw")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}
	path := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	got, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	if err != nil {
		t.Fatalf("LoadKey file: %v", err)
	}
	if got != testKeyHex {
		t.Fatalf("LoadKey file = %s", got)
	}

	if _, err := LoadKey(KeyConfig{}); err == nil {
		t.Fatal("empty config resolved a key")
	}
}

func TestL2HeadersAt(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString([]byte("super-secret"))
	auth := &HMACAuth{Key: "api-key", Secret: secret, Passphrase: "phrase"}

	headers := auth.L2HeadersAt("0xabc", "POST", "/order", `{"x":1}`, 1700000000)

	if headers["POLY_ADDRESS"] != "0xabc" || headers["POLY_API_KEY"] != "api-key" || headers["POLY_PASSPHRASE"] != "phrase" {
		t.Fatalf("static headers wrong: %v", headers)
	}
	if headers["POLY_TIMESTAMP"] != "1700000000" {
		t.Fatalf("timestamp = %s", headers["POLY_TIMESTAMP"])
	}

	mac := hmac.New(sha256.New, []byte("super-secret"))
	mac.Write([]byte("1700000000POST/order" + `{"x":1}`))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if headers["POLY_SIGNATURE"] != want {
		t.Fatalf("signature = %s, want %s", headers["POLY_SIGNATURE"], want)
	}

	// Same inputs, same signature.
	again := auth.L2HeadersAt("0xabc", "POST", "/order", `{"x":1}`, 1700000000)
	if again["POLY_SIGNATURE"] != headers["POLY_SIGNATURE"] {
		t.Fatal("signature not deterministic")
	}
}

func TestHMACAuthStringRedacts(t *testing.T) {
	auth := &HMACAuth{Key: "api-key-12345", Secret: "topsecretvalue"}
	s := auth.String()
	if strings.Contains(s, "12345") || strings.Contains(s, "secretvalue") {
		t.Fatalf("credentials leaked: %s", s)
	}
	if !strings.Contains(s, "api-****") {
		t.Fatalf("unexpected format: %s", s)
	}
}
