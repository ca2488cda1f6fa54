package core

import (
	"runtime"
	"testing"
)

func tagged(tag uint16) Sample {
	var s Sample
	for ch := 0; ch < NumChannels; ch++ {
		s.Ch[ch] = tag
	}
	s.SetTime64(uint64(tag) * 100)
	return s
}

func TestNewRingRejectsNonPow2(t *testing.T) {
	for _, cap := range []uint32{0, 3, 100, 1000} {
		if _, err := NewRing(cap); err != ErrNotPow2 {
			t.Errorf("NewRing(%d): expected ErrNotPow2, got %v", cap, err)
		}
	}
	if _, err := NewRing(1024); err != nil {
		t.Errorf("NewRing(1024) failed: %v", err)
	}
}

func TestRingInOrderNoLoss(t *testing.T) {
	ring, _ := NewRing(64)

	for i := 0; i < 64; i++ {
		ring.Add(tagged(uint16(i)))
	}

	out := make([]Sample, 128)
	n := ring.Consume(out)
	if n != 64 {
		t.Fatalf("Expected 64 samples, got %d", n)
	}
	for i := 0; i < n; i++ {
		if out[i].Ch[0] != uint16(i) {
			t.Errorf("Sample %d out of order: tag %d", i, out[i].Ch[0])
		}
	}
	if ring.Overruns() != 0 {
		t.Errorf("Expected zero overruns, got %d", ring.Overruns())
	}
}

func TestRingOverrunDropsOldest(t *testing.T) {
	ring, _ := NewRing(16)

	// Exceed capacity by 5 before any consume
	for i := 0; i < 21; i++ {
		ring.Add(tagged(uint16(i)))
	}

	if ring.Overruns() != 5 {
		t.Errorf("Expected exactly 5 overruns, got %d", ring.Overruns())
	}

	out := make([]Sample, 32)
	n := ring.Consume(out)
	if n != 16 {
		t.Fatalf("Expected 16 surviving samples, got %d", n)
	}
	// Survivors are the 16 most recently added: tags 5..20
	for i := 0; i < n; i++ {
		if out[i].Ch[0] != uint16(i+5) {
			t.Errorf("Survivor %d: expected tag %d, got %d", i, i+5, out[i].Ch[0])
		}
	}
}

func TestRingConsumeEmpty(t *testing.T) {
	ring, _ := NewRing(8)
	out := make([]Sample, 8)
	if n := ring.Consume(out); n != 0 {
		t.Errorf("Consume on empty ring returned %d", n)
	}
	if n := ring.Consume(nil); n != 0 {
		t.Errorf("Consume with nil buffer returned %d", n)
	}
}

func TestRingConsumeBounded(t *testing.T) {
	ring, _ := NewRing(32)
	for i := 0; i < 10; i++ {
		ring.Add(tagged(uint16(i)))
	}

	out := make([]Sample, 4)
	if n := ring.Consume(out); n != 4 {
		t.Fatalf("Expected 4 samples, got %d", n)
	}
	if n := ring.Consume(out); n != 4 {
		t.Fatalf("Expected 4 more samples, got %d", n)
	}
	if out[0].Ch[0] != 4 {
		t.Errorf("Second batch should start at tag 4, got %d", out[0].Ch[0])
	}
}

func TestRingWraparoundSplitCopy(t *testing.T) {
	ring, _ := NewRing(8)
	out := make([]Sample, 8)

	// Push the cursors near the wrap point, then force a split copy
	for i := 0; i < 6; i++ {
		ring.Add(tagged(uint16(i)))
	}
	ring.Consume(out[:6])

	for i := 6; i < 12; i++ {
		ring.Add(tagged(uint16(i)))
	}
	n := ring.Consume(out)
	if n != 6 {
		t.Fatalf("Expected 6 samples across the wrap, got %d", n)
	}
	for i := 0; i < n; i++ {
		if out[i].Ch[0] != uint16(i+6) {
			t.Errorf("Wrapped sample %d: expected tag %d, got %d", i, i+6, out[i].Ch[0])
		}
	}
}

// TestRingNoTornReads interleaves a writer and a reader on the same ring
// and checks that no consumed sample is ever partially written: all five
// channel words and the timestamp of a sample must agree on its tag.
// The producer backs off when the ring is full so no slot is ever
// rewritten while the consumer copies it; run with -race.
func TestRingNoTornReads(t *testing.T) {
	ring, _ := NewRing(256)
	const total = 100000

	done := make(chan struct{})
	go func() {
		for i := 0; i < total; i++ {
			for ring.Len() >= ring.Cap()-1 {
				// Consumer is behind; overwriting here would be a real
				// (counted) data race, which is exactly what this test
				// must not trigger.
				runtime.Gosched()
			}
			ring.Add(tagged(uint16(i)))
		}
		close(done)
	}()

	out := make([]Sample, 64)
	consumed := 0
	producerDone := false
	for {
		n := ring.Consume(out)
		for i := 0; i < n; i++ {
			s := &out[i]
			tag := s.Ch[0]
			if tag != uint16(consumed) {
				t.Fatalf("Order violation at %d: tag %d", consumed, tag)
			}
			for ch := 1; ch < NumChannels; ch++ {
				if s.Ch[ch] != tag {
					t.Fatalf("Torn record: ch0=%d ch%d=%d", tag, ch, s.Ch[ch])
				}
			}
			if uint16(s.Time64()/100) != tag {
				t.Fatalf("Torn record: tag %d but time %d", tag, s.Time64())
			}
			consumed++
		}
		if n == 0 && producerDone && ring.Len() == 0 {
			break
		}
		if !producerDone {
			select {
			case <-done:
				producerDone = true
			default:
			}
		}
	}

	if consumed != total {
		t.Errorf("Expected %d samples consumed, got %d", total, consumed)
	}
	if ring.Overruns() != 0 {
		t.Errorf("Expected zero overruns, got %d", ring.Overruns())
	}
}
