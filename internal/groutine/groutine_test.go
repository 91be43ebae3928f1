package groutine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGo_NamesGoroutine(t *testing.T) {
	got := make(chan string, 1)
	Go(nil, "worker-42", func(ctx context.Context) {
		got <- GetName(ctx)
	})

	select {
	case name := <-got:
		assert.Equal(t, "worker-42", name)
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

func TestGetName_Empty(t *testing.T) {
	assert.Equal(t, "", GetName(context.Background()))
	//nolint:staticcheck // nil context is handled explicitly
	assert.Equal(t, "", GetName(nil))
}

func TestSerial_PreservesOrder(t *testing.T) {
	s := NewSerial("test-serial", logrus.New())

	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, s.Submit(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	s.Close()

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestSerial_NeverConcurrent(t *testing.T) {
	s := NewSerial("test-serial", nil)

	var active, maxActive int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s.Submit(func() {
					mu.Lock()
					active++
					if active > maxActive {
						maxActive = active
					}
					mu.Unlock()

					mu.Lock()
					active--
					mu.Unlock()
				})
			}
		}()
	}
	wg.Wait()
	s.Close()

	assert.Equal(t, 1, maxActive)
}

func TestSerial_SubmitAfterClose(t *testing.T) {
	s := NewSerial("test-serial", nil)
	s.Close()
	s.Close()

	assert.False(t, s.Submit(func() {}))
	select {
	case <-s.Done():
	default:
		t.Fatal("Done should be closed after Close")
	}
}

func TestSerial_RecoversPanic(t *testing.T) {
	s := NewSerial("test-serial", nil)

	ran := false
	s.Submit(func() { panic("boom") })
	s.Submit(func() { ran = true })
	s.Close()

	assert.True(t, ran, "queue must keep running after a panic")
}
