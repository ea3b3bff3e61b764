package license

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyLockerExcludesSameKey(t *testing.T) {
	l := newKeyLocker()

	unlock, err := l.Lock(context.Background(), "KEY-A")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "KEY-A")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	assert.Equal(t, 0, l.inFlight())
}

func TestKeyLockerIndependentKeys(t *testing.T) {
	l := newKeyLocker()

	unlockA, err := l.Lock(context.Background(), "KEY-A")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctx, "KEY-B")
	require.NoError(t, err)
	assert.Equal(t, 2, l.inFlight())

	unlockB()
	unlockA()
	assert.Equal(t, 0, l.inFlight())
}

func TestKeyLockerSerializesHolders(t *testing.T) {
	l := newKeyLocker()

	const workers = 16
	var (
		wg      sync.WaitGroup
		holders int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "KEY-A")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			holders++
			if holders > maxSeen {
				maxSeen = holders
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			holders--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, l.inFlight())
}

func TestKeyLockerUnlockIsIdempotent(t *testing.T) {
	l := newKeyLocker()

	unlock, err := l.Lock(context.Background(), "KEY-A")
	require.NoError(t, err)
	unlock()
	unlock()
	assert.Equal(t, 0, l.inFlight())

	unlock, err = l.Lock(context.Background(), "KEY-A")
	require.NoError(t, err)
	unlock()
}

func TestRecordValidate(t *testing.T) {
	at := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		rec     Record
		wantErr bool
	}{
		{"unbound", Record{Key: "ABC-123"}, false},
		{"bound", Record{Key: "ABC-123", BoundDevice: "device-X", BoundAt: at}, false},
		{"empty key", Record{}, true},
		{"device without date", Record{Key: "ABC-123", BoundDevice: "device-X"}, true},
		{"date without device", Record{Key: "ABC-123", BoundAt: at}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedRecord)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "****", maskKey("SHORT"))
	assert.Equal(t, "****", maskKey("12345678"))
	assert.Equal(t, "ABCD****5678", maskKey("ABCD-1234-EFGH-5678"))
	assert.Len(t, hashKey("ABCD-1234-EFGH-5678"), 16)
	assert.Equal(t, hashKey("ABC"), hashKey("ABC"))
}
