package delivery

import (
	"context"
	"errors"
	"fmt"
)

// ErrDeliveryFailed is wrapped by every Sender error.
var ErrDeliveryFailed = errors.New("code delivery failed")

// Sender delivers a code to phone. Implementations must honour ctx.
type Sender interface {
	SendOTP(ctx context.Context, phone, code string) error
}

// SenderFunc adapts a plain function to Sender.
type SenderFunc func(ctx context.Context, phone, code string) error

func (f SenderFunc) SendOTP(ctx context.Context, phone, code string) error {
	return f(ctx, phone, code)
}

// MessageBody renders the SMS text for code.
func MessageBody(code string) string {
	return fmt.Sprintf("Your verification code is %s. It expires soon; do not share it.", code)
}
