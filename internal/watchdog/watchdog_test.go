package watchdog

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeCapturer struct {
	samples []Sample
	i       int
}

func (f *fakeCapturer) Capture(ctx context.Context) (Sample, error) {
	s := f.samples[f.i]
	if f.i < len(f.samples)-1 {
		f.i++
	}
	return s, nil
}

func TestIsBlack(t *testing.T) {
	cases := []struct {
		s    Sample
		want bool
	}{
		{Sample{Mean: 0, Variance: 0}, true},
		{Sample{Mean: 5, Variance: 0.5}, true},
		{Sample{Mean: 5, Variance: 2}, false},
		{Sample{Mean: 50, Variance: 0.1}, false},
	}
	for _, c := range cases {
		if got := c.s.IsBlack(); got != c.want {
			t.Errorf("Sample(%+v).IsBlack() = %v, want %v", c.s, got, c.want)
		}
	}
}

func TestRun_TriggersRecoveryOnConfirmedBlack(t *testing.T) {
	cap := &fakeCapturer{samples: []Sample{
		{Mean: 0, Variance: 0}, // first check: black
		{Mean: 0, Variance: 0}, // recheck: still black
	}}
	var recovered int32
	rec := StubRecoverer{OnRecover: func(ctx context.Context) error {
		atomic.AddInt32(&recovered, 1)
		return nil
	}}

	w := New(cap, rec, 24*time.Hour, zerolog.Nop())
	w.firstCheckDelayOverride(time.Millisecond)
	w.rechecksDelayOverride(time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	w.Run(ctx)

	if atomic.LoadInt32(&recovered) != 1 {
		t.Fatalf("expected exactly one recovery, got %d", recovered)
	}
}

func TestRun_NoRecoveryWhenNotConfirmed(t *testing.T) {
	cap := &fakeCapturer{samples: []Sample{
		{Mean: 0, Variance: 0},    // first check: looks black
		{Mean: 100, Variance: 50}, // recheck: recovered on its own
	}}
	var recovered int32
	rec := StubRecoverer{OnRecover: func(ctx context.Context) error {
		atomic.AddInt32(&recovered, 1)
		return nil
	}}

	w := New(cap, rec, 24*time.Hour, zerolog.Nop())
	w.firstCheckDelayOverride(time.Millisecond)
	w.rechecksDelayOverride(time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	w.Run(ctx)

	if atomic.LoadInt32(&recovered) != 0 {
		t.Fatalf("expected no recovery, got %d", recovered)
	}
}
