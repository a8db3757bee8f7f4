package oracle

import (
	"errors"
	"testing"
	"time"

	"github.com/memeperp/engine/internal/clock"
	"github.com/memeperp/engine/internal/types"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time                         { return f.t }
func (f *fakeClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

type fakeSource struct {
	price types.Ticks
	err   error
}

func (f *fakeSource) SpotPrice(market string) (types.Ticks, error) {
	return f.price, f.err
}

func TestTrackerFreshThenStale(t *testing.T) {
	fc := &fakeClock{t: time.Unix(0, 0)}
	src := &fakeSource{price: 1000}
	tr := NewTracker(src, fc, 10*time.Second)

	p, err := tr.Poll("BTC-USD")
	if err != nil || p != 1000 {
		t.Fatalf("unexpected poll result: %v %v", p, err)
	}
	if tr.Stale("BTC-USD") {
		t.Fatal("should not be stale immediately after a good poll")
	}

	src.err = errors.New("feed down")
	fc.t = fc.t.Add(5 * time.Second)
	p, err = tr.Poll("BTC-USD")
	if err != nil || p != 1000 {
		t.Fatalf("expected cached last-good value, got %v %v", p, err)
	}
	if tr.Stale("BTC-USD") {
		t.Fatal("should not be stale within bound")
	}

	fc.t = fc.t.Add(10 * time.Second)
	if !tr.Stale("BTC-USD") {
		t.Fatal("expected stale past bound")
	}
}

func TestTrackerNeverPolledIsStale(t *testing.T) {
	fc := &fakeClock{t: time.Unix(0, 0)}
	tr := NewTracker(&fakeSource{}, fc, time.Second)
	if !tr.Stale("ETH-USD") {
		t.Fatal("market with no price history must report stale")
	}
}
