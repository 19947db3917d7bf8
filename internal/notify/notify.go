// Package notify delivers outbound messages: SMS through an HTTP
// gateway and execution events over MQTT. Everything that sends is
// injected as a Notifier; nothing in the pipeline holds a global
// callback.
package notify

import "context"

// Notifier sends messages to people. source identifies which part of
// the system asked, for logging and gateway-side attribution.
type Notifier interface {
	// SendSMS delivers a text message to a phone number.
	SendSMS(ctx context.Context, phone, message, source string) error

	// NotifyUser delivers a message to the primary user.
	NotifyUser(ctx context.Context, message string) error
}

// Noop discards everything. Used when no gateway is configured and in
// tests.
type Noop struct{}

func (Noop) SendSMS(ctx context.Context, phone, message, source string) error { return nil }
func (Noop) NotifyUser(ctx context.Context, message string) error             { return nil }
