package whatsapp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flamefinish/stockbot/pkg/webhook"
)

func TestComputeSignatureKnownVector(t *testing.T) {
	// Worked example from Twilio's security documentation.
	authToken := "12345"
	url := "https://mycompany.com/myapp.php?foo=1&bar=2"
	params := map[string]string{
		"CallSid": "CA1234567890ABCDE",
		"Caller":  "+12349013030",
		"Digits":  "1234",
		"From":    "+12349013030",
		"To":      "+18005551212",
	}

	sig := ComputeSignature(authToken, url, params)
	assert.Equal(t, "0/KCTR6DLpKmkAf8muzZqo1nDgQ=", sig)
}

func TestValidateSignature(t *testing.T) {
	params := map[string]string{
		"From":       "whatsapp:+639171234567",
		"Body":       "how many oak planks left?",
		"MessageSid": "SM1234",
	}
	url := "https://bot.example.com/webhook"

	sig := ComputeSignature("token", url, params)
	assert.True(t, ValidateSignature("token", url, params, sig))

	assert.False(t, ValidateSignature("token", url, params, ""))
	assert.False(t, ValidateSignature("wrong-token", url, params, sig))
	assert.False(t, ValidateSignature("token", "https://evil.example.com/webhook", params, sig))

	params["Body"] = "tampered"
	assert.False(t, ValidateSignature("token", url, params, sig))
}

func TestSignatureVerifier(t *testing.T) {
	form := map[string]string{"From": "whatsapp:+639171234567", "Body": "hi"}
	url := "https://bot.example.com/webhook"
	verify := SignatureVerifier("token")

	req := webhook.Request{
		URL:  url,
		Form: form,
		Headers: map[string]string{
			signatureHeader: ComputeSignature("token", url, form),
		},
	}
	require.True(t, verify(req))

	req.Headers[signatureHeader] = "bogus"
	assert.False(t, verify(req))
}
