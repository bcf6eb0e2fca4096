// Package whatsapp connects the agent to WhatsApp through Twilio.
//
// Inbound messages arrive as form-encoded webhooks signed with
// X-Twilio-Signature. The handler validates the signature, checks the sender
// against the allowlist, and hands the message text to the agent runner.
// Replies go out either inline as TwiML or through the Twilio REST API.
package whatsapp
