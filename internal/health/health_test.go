package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestChecker_AllHealthy(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("docstore", func(ctx context.Context) Status { return StatusOK })
	c.Register("blob", func(ctx context.Context) Status { return StatusOK })

	assert.True(t, c.IsReady(context.Background()))
}

func TestChecker_OneDown(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("docstore", func(ctx context.Context) Status { return StatusOK })
	c.Register("blob", func(ctx context.Context) Status { return StatusDown })

	assert.False(t, c.IsReady(context.Background()))
}

func TestChecker_Degraded_StillReady(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("llm", func(ctx context.Context) Status { return StatusDegraded })

	assert.True(t, c.IsReady(context.Background()))
}

func TestChecker_NoChecks(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	assert.True(t, c.IsReady(context.Background()))
}

func TestChecker_CheckTimesOut(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.timeout = 20 * time.Millisecond
	c.Register("slow", PingCheck(pingFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})))

	results := c.RunAll(context.Background())
	assert.Equal(t, StatusDown, results["slow"])
}

func TestPingChecks(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	bad := pingFunc(func(context.Context) error { return errors.New("unreachable") })
	ctx := context.Background()

	assert.Equal(t, StatusOK, PingCheck(ok)(ctx))
	assert.Equal(t, StatusDown, PingCheck(bad)(ctx))
	assert.Equal(t, StatusOK, OptionalPingCheck(ok)(ctx))
	assert.Equal(t, StatusDegraded, OptionalPingCheck(bad)(ctx))
}

func TestReady(t *testing.T) {
	assert.True(t, Ready(map[string]Status{"a": StatusOK, "b": StatusDegraded}))
	assert.False(t, Ready(map[string]Status{"a": StatusOK, "b": StatusDown}))
}
