package groutine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGo_PropagatesName(t *testing.T) {
	got := make(chan string, 1)
	Go(nil, "session-connect", func(ctx context.Context) {
		got <- GetName(ctx)
	})

	select {
	case name := <-got:
		assert.Equal(t, "session-connect", name)
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

func TestGetName_Empty(t *testing.T) {
	assert.Equal(t, "", GetName(context.Background()))
	assert.Equal(t, "", GetName(nil)) //nolint:staticcheck
}

func TestGroup_Wait(t *testing.T) {
	var g Group
	var n atomic.Int32
	for i := 0; i < 5; i++ {
		g.Go(context.Background(), "worker", func(ctx context.Context) {
			time.Sleep(5 * time.Millisecond)
			n.Add(1)
		})
	}
	g.Wait()
	assert.Equal(t, int32(5), n.Load())
}
