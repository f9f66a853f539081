package ids

import "testing"

func TestRunIDsSortInCreationOrder(t *testing.T) {
	a := NewRunID()
	b := NewRunID()
	if a >= b {
		t.Fatalf("expected %s < %s", a, b)
	}
}
