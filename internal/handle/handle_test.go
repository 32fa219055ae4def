package handle

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompositeCancelReleasesChildren(t *testing.T) {
	t.Parallel()

	var released atomic.Int32
	c := NewComposite(
		Func(func() { released.Add(1) }),
		Func(func() { released.Add(1) }),
	)
	require.False(t, c.IsCancelled())
	require.Equal(t, 2, c.Len())

	c.Cancel()
	assert.True(t, c.IsCancelled())
	assert.Equal(t, int32(2), released.Load())
	assert.Equal(t, 0, c.Len())

	c.Cancel()
	assert.Equal(t, int32(2), released.Load(), "second cancel must not release again")
}

func TestComposeAfterCancelReleasesSynchronously(t *testing.T) {
	t.Parallel()

	c := &Composite{}
	c.Cancel()

	released := false
	c.Compose(Func(func() { released = true }))
	if !released {
		t.Fatal("child composed onto a cancelled handle was not released inside Compose")
	}
	if c.Len() != 0 {
		t.Fatalf("Len = %d, want 0", c.Len())
	}
}

func TestComposeNilIsIgnored(t *testing.T) {
	t.Parallel()

	c := &Composite{}
	c.Compose(nil)
	if c.Len() != 0 {
		t.Fatalf("Len = %d, want 0", c.Len())
	}
}

func TestCompositeCancelFromChild(t *testing.T) {
	t.Parallel()

	c := &Composite{}
	// A child that re-enters the parent must not deadlock.
	c.Compose(Func(func() {
		c.Cancel()
		_ = c.IsCancelled()
		c.Compose(Empty())
	}))
	c.Cancel()
	require.True(t, c.IsCancelled())
}

func TestCompositeConcurrentCancelAndCompose(t *testing.T) {
	t.Parallel()

	const n = 200
	c := &Composite{}
	var released atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Compose(Func(func() { released.Add(1) }))
		}()
		go func() {
			defer wg.Done()
			c.Cancel()
		}()
	}
	wg.Wait()

	require.True(t, c.IsCancelled())
	// Every child was either released by Cancel or released on compose.
	assert.Equal(t, int32(n), released.Load())
}

func TestFuncRunsOnce(t *testing.T) {
	t.Parallel()

	var calls int
	h := Func(func() { calls++ })
	h.Cancel()
	h.Cancel()
	if calls != 1 {
		t.Fatalf("release calls = %d, want 1", calls)
	}
	if !h.IsCancelled() {
		t.Fatal("expected cancelled")
	}
}

func TestEmptyAndCancelled(t *testing.T) {
	t.Parallel()

	if Empty().IsCancelled() {
		t.Fatal("Empty() should start active")
	}
	if !Cancelled().IsCancelled() {
		t.Fatal("Cancelled() should start cancelled")
	}
}
