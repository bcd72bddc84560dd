package panicerr_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewline/crewline/pkg/panicerr"
)

func TestSafeRecoversPanic(t *testing.T) {
	err := panicerr.Safe(func() error {
		panic("boom")
	})()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestSafePassesThroughError(t *testing.T) {
	want := errors.New("plain failure")
	err := panicerr.Safe(func() error { return want })()
	assert.ErrorIs(t, err, want)

	assert.NoError(t, panicerr.Safe(func() error { return nil })())
}

func TestGoReportsPanicThroughDone(t *testing.T) {
	done := make(chan error, 1)
	panicerr.Go(func() error {
		panic("background boom")
	}, func(err error) { done <- err })

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "background boom")
	case <-time.After(time.Second):
		t.Fatal("done callback was never invoked")
	}
}

func TestGoReportsNilOnSuccess(t *testing.T) {
	done := make(chan error, 1)
	panicerr.Go(func() error { return nil }, func(err error) { done <- err })

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("done callback was never invoked")
	}
}
