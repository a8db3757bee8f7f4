package clock

import "testing"

func TestRealClockMonotonic(t *testing.T) {
	c := Real{}
	a := c.Now()
	b := c.Now()
	if b.Before(a) {
		t.Fatalf("clock went backwards: %v before %v", b, a)
	}
}
