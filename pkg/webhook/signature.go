package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"hash"
	"strings"
)

// HMACVerifier returns a Verifier that checks a hex-encoded HMAC digest of the
// raw request body against the named header. An optional "sha256=" style
// prefix on the header value is stripped before comparison. Supported
// algorithms are "sha256" and "sha1".
func HMACVerifier(secret, header, algorithm string) Verifier {
	return func(req Request) bool {
		provided := req.Headers[header]
		if provided == "" {
			return false
		}
		if idx := strings.IndexByte(provided, '='); idx >= 0 {
			provided = provided[idx+1:]
		}

		var newHash func() hash.Hash
		switch algorithm {
		case "sha256":
			newHash = sha256.New
		case "sha1":
			newHash = sha1.New
		default:
			return false
		}

		mac := hmac.New(newHash, []byte(secret))
		mac.Write(req.RawBody)
		expected := hex.EncodeToString(mac.Sum(nil))

		return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
	}
}
