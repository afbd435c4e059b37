package vision

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		err  error
		kind error
		msg  string
	}{
		{InvalidArgument("clip size %d", -1), ErrInvalidArgument, "vision: invalid argument: clip size -1"},
		{IllegalOperation("node %s is released", "a#1"), ErrIllegalOperation, "vision: illegal operation: node a#1 is released"},
		{NotSupported("descriptor size %d", 48), ErrNotSupported, "vision: not supported: descriptor size 48"},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.kind) {
			t.Errorf("%v does not match %v", tt.err, tt.kind)
		}
		if got := tt.err.Error(); got != tt.msg {
			t.Errorf("Error() = %q, want %q", got, tt.msg)
		}
	}
}

func TestErrorKindsAreDistinct(t *testing.T) {
	kinds := []error{ErrInvalidArgument, ErrIllegalOperation, ErrNotSupported, ErrAbstractMethod, ErrOutOfMemory}
	for i, a := range kinds {
		for j, b := range kinds {
			if i != j && errors.Is(a, b) {
				t.Errorf("%v matches %v", a, b)
			}
		}
	}
}

func TestCycleDetected(t *testing.T) {
	err := fmt.Errorf("%w: a <- b <- a", ErrCycleDetected)
	if !errors.Is(err, ErrCycleDetected) || !errors.Is(err, ErrIllegalOperation) {
		t.Errorf("%v should match ErrCycleDetected and ErrIllegalOperation", err)
	}
	if errors.Is(IllegalOperation("x"), ErrCycleDetected) {
		t.Error("a plain illegal operation matches ErrCycleDetected")
	}
}
