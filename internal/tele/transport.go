package tele

import (
	"context"

	"github.com/cellbeat/cellbeat/log2"
)

// Tele transport contract:
// - Init fails only with invalid config, ignores network errors
// - SendTelemetry delivers within network timeout or fails; success includes ack from receiver
// - SendState is best effort, may return before delivery
// - application may start without network available
type Transporter interface {
	Init(ctx context.Context, log *log2.Log, teleConfig Config, willPayload []byte) error
	SendState(payload []byte) bool
	SendTelemetry(payload []byte) bool
	Close()
}
