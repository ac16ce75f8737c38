package flash

import (
	"sync/atomic"
	"testing"
	"time"

	"thingino-cloner/internal/ident"
)

// TestWaitForEraseStabilizes mirrors the scenario where a mock status poll
// starts at t=0 with one value, then holds a second value steady from
// t>=5s onward; the poller must not return before three consecutive
// agreeing polls have been observed past the minimum wait.
func TestWaitForEraseStabilizes(t *testing.T) {
	start := time.Now()
	var calls int32

	w := &Writer{Variant: ident.T31}
	err := w.WaitForErase(func() (uint32, error) {
		atomic.AddInt32(&calls, 1)
		if time.Since(start) < eraseMinWait {
			return 0xAAAA, nil
		}
		return 0x5555, nil
	})
	if err != nil {
		t.Fatalf("WaitForErase returned error: %v", err)
	}

	elapsed := time.Since(start)
	// eraseMinWait (5s) + at least eraseStableThreshold polls at
	// erasePollInterval (500ms) before returning.
	minExpected := eraseMinWait + time.Duration(eraseStableThreshold)*erasePollInterval
	if elapsed < minExpected {
		t.Errorf("WaitForErase returned after %s, want at least %s", elapsed, minExpected)
	}
	if elapsed >= eraseMaxWait {
		t.Errorf("WaitForErase ran past eraseMaxWait (%s): %s", eraseMaxWait, elapsed)
	}
}

// TestWaitForEraseMaxWaitCutoff exercises a status poll that never
// stabilizes: the poller must give up at eraseMaxWait rather than loop
// forever.
func TestWaitForEraseMaxWaitCutoff(t *testing.T) {
	start := time.Now()
	toggle := false

	w := &Writer{Variant: ident.T31}
	err := w.WaitForErase(func() (uint32, error) {
		toggle = !toggle
		if toggle {
			return 1, nil
		}
		return 2, nil
	})
	if err != nil {
		t.Fatalf("WaitForErase returned error: %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < eraseMaxWait {
		t.Errorf("WaitForErase returned early at %s, want to run to eraseMaxWait (%s)", elapsed, eraseMaxWait)
	}
}

// TestWaitForEraseA1SkipsPolling checks that A1 never calls the status
// function and always waits the fixed duration.
func TestWaitForEraseA1SkipsPolling(t *testing.T) {
	start := time.Now()
	called := false

	w := &Writer{Variant: ident.A1}
	err := w.WaitForErase(func() (uint32, error) {
		called = true
		return 0, nil
	})
	if err != nil {
		t.Fatalf("WaitForErase returned error: %v", err)
	}
	if called {
		t.Error("A1 erase-wait must not poll status")
	}
	elapsed := time.Since(start)
	if elapsed < a1EraseFixedWait {
		t.Errorf("A1 erase-wait returned after %s, want at least %s", elapsed, a1EraseFixedWait)
	}
}

// TestWaitForEraseT41SkipsPolling checks that the T41 family takes the
// fixed minimum wait without consulting the status function at all.
func TestWaitForEraseT41SkipsPolling(t *testing.T) {
	start := time.Now()
	called := false

	w := &Writer{Variant: ident.T41}
	err := w.WaitForErase(func() (uint32, error) {
		called = true
		return 0, nil
	})
	if err != nil {
		t.Fatalf("WaitForErase returned error: %v", err)
	}
	if called {
		t.Error("T41 family erase-wait must not poll status")
	}
	elapsed := time.Since(start)
	if elapsed < eraseMinWait {
		t.Errorf("T41 erase-wait returned after %s, want at least %s", elapsed, eraseMinWait)
	}
	if elapsed >= eraseMinWait+erasePollInterval {
		t.Errorf("T41 erase-wait ran long (%s), want close to the fixed %s wait", elapsed, eraseMinWait)
	}
}

func TestWriteAllChunking(t *testing.T) {
	params := ParamsFor(ident.T31)
	data := make([]byte, int(params.ChunkSize)*2+123)

	mock := &mockEngineTransport{}
	w := &Writer{T: mock, Ops: newMockOps(mock), Variant: ident.T31}
	if err := w.WriteAll(0x1234, data, func() (uint32, error) { return 0, nil }); err != nil {
		t.Fatalf("WriteAll returned error: %v", err)
	}

	// Preflight's marker and descriptor are shorter than a chunk; every
	// chunk, including the padded last one, is sent at ChunkSize.
	chunks := 0
	for _, n := range mock.bulkOutLen {
		if n == int(params.ChunkSize) {
			chunks++
		}
	}
	if chunks != 3 {
		t.Errorf("expected 3 chunks for %d bytes at %d chunk size, got %d", len(data), params.ChunkSize, chunks)
	}
}
