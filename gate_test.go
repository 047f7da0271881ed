package snapshot

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCaptureGate_ArmIsIdempotent(t *testing.T) {
	var g CaptureGate

	assert.False(t, g.Armed())
	assert.True(t, g.Arm(), "first arm reports a fresh arming")
	assert.False(t, g.Arm(), "arming an armed gate is a no-op")
	assert.False(t, g.Arm())
	assert.True(t, g.Armed())

	assert.True(t, g.ConsumeIfArmed())
	assert.False(t, g.ConsumeIfArmed(), "a burst of arms yields exactly one capture")
	assert.False(t, g.Armed())
}

func TestCaptureGate_ConsumeWhenDisarmed(t *testing.T) {
	var g CaptureGate
	for i := 0; i < 10; i++ {
		assert.False(t, g.ConsumeIfArmed())
	}
}

func TestCaptureGate_SingleArmingHasOneWinner(t *testing.T) {
	for round := 0; round < 100; round++ {
		var g CaptureGate
		g.Arm()

		var winners atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if g.ConsumeIfArmed() {
					winners.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, int32(1), winners.Load(), "round %d", round)
	}
}

func TestCaptureGate_ConcurrentArmAndConsume(t *testing.T) {
	const (
		arming   = 8
		perActor = 1000
	)

	var g CaptureGate
	var consumed atomic.Int64
	var wg sync.WaitGroup
	done := make(chan struct{})

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for {
			select {
			case <-done:
				return
			default:
				if g.ConsumeIfArmed() {
					consumed.Add(1)
				}
			}
		}
	}()

	for i := 0; i < arming; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perActor; j++ {
				g.Arm()
			}
		}()
	}
	wg.Wait()
	close(done)
	<-consumerDone

	total := consumed.Load()
	if g.ConsumeIfArmed() {
		total++
	}

	assert.GreaterOrEqual(t, total, int64(1))
	assert.LessOrEqual(t, total, int64(arming*perActor))
	assert.False(t, g.Armed())
}
