package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestChecker(t *testing.T) {
	c := NewChecker(&Config{CheckInterval: time.Millisecond, CheckTimeout: time.Second})

	var redisErr error
	c.Register(ComponentRedis, func(context.Context) error { return redisErr })
	c.Register(ComponentLedger, func(context.Context) error { return nil })

	status := c.GetHealthStatus()
	assert.True(t, status.Healthy)
	assert.Len(t, status.Checks, 2)

	redisErr = assert.AnError
	c.CheckNow(context.Background())

	status = c.GetHealthStatus()
	assert.False(t, status.Healthy)
	assert.False(t, status.Checks[ComponentRedis].Result)
	assert.True(t, status.Checks[ComponentLedger].Result)

	redisErr = nil
	c.CheckNow(context.Background())
	assert.True(t, c.GetHealthStatus().Healthy)
}

func TestRunStops(t *testing.T) {
	c := NewChecker(&Config{CheckInterval: time.Millisecond, CheckTimeout: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("checker did not stop")
	}
}
