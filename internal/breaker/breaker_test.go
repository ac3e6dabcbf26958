package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := New(3, 50*time.Millisecond)
	fail := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := b.Do(func() error { return fail })
		assert.ErrorIs(t, err, fail)
	}
	assert.Equal(t, Open, b.State())

	err := b.Do(func() error { return nil })
	assert.ErrorIs(t, err, ErrOpen)
}

func TestBreaker_HalfOpenThenCloses(t *testing.T) {
	b := New(1, 10*time.Millisecond)
	_ = b.Do(func() error { return errors.New("boom") })
	assert.Equal(t, Open, b.State())

	time.Sleep(15 * time.Millisecond)
	assert.Equal(t, HalfOpen, b.State())

	err := b.Do(func() error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := New(1, 10*time.Millisecond)
	_ = b.Do(func() error { return errors.New("boom") })
	time.Sleep(15 * time.Millisecond)

	err := b.Do(func() error { return errors.New("still broken") })
	assert.Error(t, err)
	assert.Equal(t, Open, b.State())
}
