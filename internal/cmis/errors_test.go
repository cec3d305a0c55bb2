package cmis

import (
	"fmt"
	"testing"
)

func TestIsTransientWraps(t *testing.T) {
	err := fmt.Errorf("dial tcp: %w", ErrTransportTransient)
	if !IsTransient(err) {
		t.Fatal("want wrapped transient error to be detected")
	}
	if IsTransient(ErrObjectNotFound) {
		t.Fatal("not-found must not be classified as transient")
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(fmt.Errorf("lookup: %w", ErrObjectNotFound)) {
		t.Fatal("want wrapped not-found error to be detected")
	}
}
