package utils

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestLoop_Serializes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	loop := NewLoop(8)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.ErrorIs(t, loop.Run(ctx), context.Canceled)
	}()

	counter := 0
	var posters sync.WaitGroup
	for i := 0; i < 16; i++ {
		posters.Add(1)
		go func() {
			defer posters.Done()
			for j := 0; j < 100; j++ {
				assert.NoError(t, loop.Post(ctx, func() { counter++ }))
			}
		}()
	}
	posters.Wait()
	var got int
	assert.NoError(t, loop.Do(ctx, func() error {
		got = counter
		return nil
	}))
	assert.Equal(t, 1600, got)

	boom := errors.New("boom")
	assert.ErrorIs(t, loop.Do(ctx, func() error { return boom }), boom)

	cancel()
	wg.Wait()
	assert.ErrorIs(t, loop.Post(context.Background(), func() {}), ErrLoopStopped)
}

func TestLoop_Clock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop := NewLoop(1)
	done := make(chan struct{})
	go func() {
		_ = loop.Run(ctx)
		close(done)
	}()

	fired := make(chan struct{})
	loop.Clock(nil).AfterFunc(time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("timer never ran on the loop")
	}
	cancel()
	<-done
}
