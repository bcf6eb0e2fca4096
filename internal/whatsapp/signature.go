package whatsapp

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"sort"

	"github.com/flamefinish/stockbot/pkg/webhook"
)

const signatureHeader = "X-Twilio-Signature"

// ComputeSignature produces the Twilio signature for a request: the full URL
// with the form parameters appended in lexicographic key order, HMAC-SHA1
// signed with the account auth token and base64 encoded.
func ComputeSignature(authToken, url string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(url))
	for _, k := range keys {
		mac.Write([]byte(k))
		mac.Write([]byte(params[k]))
	}
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidateSignature checks a provided X-Twilio-Signature value.
func ValidateSignature(authToken, url string, params map[string]string, provided string) bool {
	if provided == "" {
		return false
	}
	expected := ComputeSignature(authToken, url, params)
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// SignatureVerifier adapts Twilio signature validation to the webhook server.
func SignatureVerifier(authToken string) webhook.Verifier {
	return func(req webhook.Request) bool {
		return ValidateSignature(authToken, req.URL, req.Form, req.Headers[signatureHeader])
	}
}
