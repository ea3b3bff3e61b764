package license

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// logActivation writes one structured line per activation. Keys are never
// logged in clear; the masked form is for humans and the hash for
// correlating lines across requests. Device ids are logged as sent.
func (b *Binder) logActivation(ctx context.Context, key, deviceID string, res Result, err error, duration time.Duration) {
	attrs := []slog.Attr{
		slog.String("action", "activate"),
		slog.String("result", resultLabel(res, err)),
		slog.String("activation_key_masked", maskKey(key)),
		slog.String("activation_key_hash", hashKey(key)),
		slog.String("device_id", deviceID),
		slog.Duration("duration", duration),
	}

	switch {
	case errors.Is(err, ErrInvalidRequest):
		b.logger.LogAttrs(ctx, slog.LevelDebug, "Activation rejected", attrs...)
	case err != nil:
		attrs = append(attrs, slog.String("error", err.Error()))
		b.logger.LogAttrs(ctx, slog.LevelError, "Activation failed", attrs...)
	case res.Outcome == OutcomeActivated:
		b.logger.LogAttrs(ctx, slog.LevelInfo, "Activation key bound", attrs...)
	case res.Outcome == OutcomeActivatedElsewhere:
		b.logger.LogAttrs(ctx, slog.LevelWarn, "Activation key bound to another device", attrs...)
	default:
		b.logger.LogAttrs(ctx, slog.LevelInfo, "Activation completed", attrs...)
	}
}

// maskKey masks the activation key for logs
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// hashKey returns a short stable digest of the key for audit correlation
func hashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", h)[:16]
}
