package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// HMACAuth holds the L2 credentials the CLOB hands back from the
// derive-api-key flow. Secret is base64 encoded on the wire and must be
// decoded before keying the MAC.
type HMACAuth struct {
	Key        string
	Secret     string
	Passphrase string
}

// L2Headers signs an API request at the current time. The CLOB expects
// POLY_ADDRESS, POLY_API_KEY, POLY_TIMESTAMP, POLY_PASSPHRASE and
// POLY_SIGNATURE on every authenticated call.
func (h *HMACAuth) L2Headers(address, method, path, body string) map[string]string {
	return h.L2HeadersAt(address, method, path, body, time.Now().Unix())
}

// L2HeadersAt signs with a caller-supplied Unix timestamp so tests can be
// deterministic. The signed message is timestamp || method || path || body.
func (h *HMACAuth) L2HeadersAt(address, method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)

	key, err := base64.StdEncoding.DecodeString(h.Secret)
	if err != nil {
		// A malformed secret yields an obviously wrong signature instead of
		// a panic; the venue rejects the request and the error surfaces
		// there.
		key = []byte(h.Secret)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(ts + method + path + body))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return map[string]string{
		"POLY_ADDRESS":    address,
		"POLY_API_KEY":    h.Key,
		"POLY_TIMESTAMP":  ts,
		"POLY_PASSPHRASE": h.Passphrase,
		"POLY_SIGNATURE":  sig,
	}
}

// String redacts the credentials for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
