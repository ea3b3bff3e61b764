package license

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"keybind/internal/infrastructure"
)

// DefaultStoreTimeout bounds each store call made by the Binder.
const DefaultStoreTimeout = 10 * time.Second

// Binder decides and records activations against a Store.
type Binder struct {
	store   Store
	locks   *keyLocker
	now     func() time.Time
	timeout time.Duration
	logger  *slog.Logger
	metrics *BindingMetrics
	tracer  trace.Tracer
}

// Option configures a Binder.
type Option func(*Binder)

// WithClock sets the source of binding timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Binder) {
		if now != nil {
			b.now = now
		}
	}
}

// WithStoreTimeout bounds each Get and Set. Zero or negative disables the
// bound and leaves only the caller's context.
func WithStoreTimeout(d time.Duration) Option {
	return func(b *Binder) {
		b.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Binder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics enables activation metrics.
func WithMetrics(metrics *BindingMetrics) Option {
	return func(b *Binder) {
		b.metrics = metrics
	}
}

// WithTracer overrides the global tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(b *Binder) {
		if tracer != nil {
			b.tracer = tracer
		}
	}
}

// NewBinder returns a Binder over store.
func NewBinder(store Store, opts ...Option) *Binder {
	b := &Binder{
		store:   store,
		locks:   newKeyLocker(),
		now:     time.Now,
		timeout: DefaultStoreTimeout,
		logger:  slog.Default(),
		tracer:  otel.Tracer(TracerName),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = infrastructure.WithComponent(b.logger, "binder")
	return b
}

// Activate binds key to deviceID if the key is unbound and reports how the
// request was decided. An empty key or device id yields ErrInvalidRequest
// and no store access. Store failures, including an expired or cancelled
// ctx, yield an error wrapping ErrStoreUnavailable; in that case no binding
// was written by this call.
func (b *Binder) Activate(ctx context.Context, key, deviceID string) (Result, error) {
	start := time.Now()

	ctx, span := b.tracer.Start(ctx, "binding.activate",
		trace.WithAttributes(
			attribute.String("binding.key_hash", hashKey(key)),
			attribute.String("component", "binder"),
		),
	)
	defer span.End()

	var (
		res Result
		err error
	)
	if key == "" || deviceID == "" {
		err = ErrInvalidRequest
	} else {
		res, err = b.activate(ctx, key, deviceID)
	}

	duration := time.Since(start)
	b.recordActivation(ctx, span, res, err, duration)
	b.logActivation(ctx, key, deviceID, res, err, duration)
	return res, err
}

func (b *Binder) activate(ctx context.Context, key, deviceID string) (Result, error) {
	if b.metrics != nil {
		b.metrics.KeysInFlight.Add(ctx, 1)
		defer b.metrics.KeysInFlight.Add(context.WithoutCancel(ctx), -1)
	}

	unlock, err := b.locks.Lock(ctx, key)
	if err != nil {
		return Result{}, storeUnavailable("lock", err)
	}
	defer unlock()

	rec, found, err := b.get(ctx, key)
	if err != nil {
		return Result{}, storeUnavailable("get", err)
	}
	if !found {
		return Result{Outcome: OutcomeKeyNotFound}, nil
	}
	if rec.IsBound() {
		return classify(rec, deviceID), nil
	}

	// Nothing has been written yet; a caller that gave up must not bind.
	if err := ctx.Err(); err != nil {
		return Result{}, storeUnavailable("set", err)
	}

	boundAt := b.now().UTC()
	err = b.set(ctx, key, deviceID, boundAt)
	switch {
	case err == nil:
		return Result{
			Outcome: OutcomeActivated,
			Record:  Record{Key: key, BoundDevice: deviceID, BoundAt: boundAt},
		}, nil
	case errors.Is(err, ErrAlreadyBound):
		return b.reread(ctx, key, deviceID)
	case errors.Is(err, ErrNotFound):
		return Result{Outcome: OutcomeKeyNotFound}, nil
	default:
		return Result{}, storeUnavailable("set", err)
	}
}

// reread classifies a key after another writer bound it first.
func (b *Binder) reread(ctx context.Context, key, deviceID string) (Result, error) {
	b.logger.DebugContext(ctx, "Lost binding race, re-reading key",
		slog.String("activation_key_hash", hashKey(key)))

	rec, found, err := b.get(ctx, key)
	if err != nil {
		return Result{}, storeUnavailable("get", err)
	}
	if !found {
		return Result{Outcome: OutcomeKeyNotFound}, nil
	}
	if !rec.IsBound() {
		return Result{}, storeUnavailable("get", ErrMalformedRecord)
	}
	return classify(rec, deviceID), nil
}

func (b *Binder) get(ctx context.Context, key string) (Record, bool, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	rec, found, err := b.store.Get(ctx, key)
	if err == nil && found {
		err = rec.Validate()
	}
	b.recordStoreCall(ctx, "get", err, time.Since(start))
	return rec, found, err
}

func (b *Binder) set(ctx context.Context, key, deviceID string, boundAt time.Time) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	err := b.store.Set(ctx, key, deviceID, boundAt)
	b.recordStoreCall(ctx, "set", err, time.Since(start))
	return err
}

func (b *Binder) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.timeout)
}
