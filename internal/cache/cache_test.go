package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/sawpanic/protoreg/internal/config"
	"github.com/sawpanic/protoreg/internal/optim"
)

func probeResult() optim.ProbeResult {
	return optim.ProbeResult{
		ImprovementFraction: 0.25,
		Criterion:           0.125,
		Reason:              optim.ReasonMaxIterations,
		Best:                optim.Best{Iteration: 7, J: 0.125, E: 0.5, Improvements: 1, Checks: 5},
	}
}

func TestMemory_GetPut(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	_, ok := m.Get(ctx, "k")
	assert.False(t, ok)

	res := probeResult()
	res.Best.Params = optim.Params{B: mat.NewDense(1, 1, []float64{1})}
	m.Put(ctx, "k", res)

	got, ok := m.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, probeResult(), got, "parameter snapshot is not kept")

	now = now.Add(2 * time.Minute)
	_, ok = m.Get(ctx, "k")
	assert.False(t, ok, "entry expired")
	assert.Equal(t, 0, m.Len())
}

func TestMemory_NoTTL(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	m.Put(ctx, "k", probeResult())
	m.now = func() time.Time { return time.Now().Add(1000 * time.Hour) }
	_, ok := m.Get(ctx, "k")
	assert.True(t, ok)
}

func TestRedis_GetPut(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	r := NewRedisFromClient(db, time.Hour, zerolog.Nop())

	data, err := json.Marshal(probeResult())
	require.NoError(t, err)

	t.Run("miss", func(t *testing.T) {
		mock.ExpectGet("k").RedisNil()
		_, ok := r.Get(ctx, "k")
		assert.False(t, ok)
	})

	t.Run("put", func(t *testing.T) {
		mock.ExpectSet("k", data, time.Hour).SetVal("OK")
		r.Put(ctx, "k", probeResult())
	})

	t.Run("hit", func(t *testing.T) {
		mock.ExpectGet("k").SetVal(string(data))
		got, ok := r.Get(ctx, "k")
		require.True(t, ok)
		assert.Equal(t, probeResult(), got)
	})

	t.Run("garbage", func(t *testing.T) {
		mock.ExpectGet("bad").SetVal("{not json")
		_, ok := r.Get(ctx, "bad")
		assert.False(t, ok)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, gobreaker.StateClosed, r.State())
}

func TestRedis_BreakerOpensOnFailures(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	r := NewRedisFromClient(db, time.Hour, zerolog.Nop())

	for i := 0; i < 3; i++ {
		mock.ExpectGet("k").SetErr(errors.New("connection refused"))
	}
	for i := 0; i < 3; i++ {
		_, ok := r.Get(ctx, "k")
		assert.False(t, ok)
	}
	assert.Equal(t, gobreaker.StateOpen, r.State())

	// no expectation registered: an open breaker never reaches the client
	_, ok := r.Get(ctx, "k")
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTiered_BackfillsLocal(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	tc := &Tiered{local: NewMemory(time.Hour), shared: NewRedisFromClient(db, time.Hour, zerolog.Nop())}

	data, err := json.Marshal(probeResult())
	require.NoError(t, err)
	mock.ExpectGet("k").SetVal(string(data))

	got, ok := tc.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, probeResult(), got)

	// second read is served locally
	got, ok = tc.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, probeResult(), got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNew_MemoryOnly(t *testing.T) {
	ctx := context.Background()
	tc := New(config.CacheConfig{TTL: time.Hour}, zerolog.Nop())
	tc.Put(ctx, "k", probeResult())
	_, ok := tc.Get(ctx, "k")
	assert.True(t, ok)
	assert.NoError(t, tc.Close())
}

func TestFingerprint(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	b := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	c := mat.NewDense(2, 2, []float64{1, 2, 3, 5})
	d := mat.NewDense(1, 4, []float64{1, 2, 3, 4})

	assert.Equal(t, Fingerprint(a), Fingerprint(b))
	assert.NotEqual(t, Fingerprint(a), Fingerprint(c))
	assert.NotEqual(t, Fingerprint(a), Fingerprint(d), "shape is part of the fingerprint")
	assert.NotEqual(t, Fingerprint(a, b), Fingerprint(a))

	var none *mat.Dense
	assert.Equal(t, Fingerprint(a, b, none), Fingerprint(a, b, nil))
	assert.NotEqual(t, Fingerprint(a, b, none), Fingerprint(a, b, c), "initial projection is part of the fingerprint")
	assert.NotEqual(t, Fingerprint(a, b, none), Fingerprint(a, b))
}
