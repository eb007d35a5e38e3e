package version

import "testing"

// TestFlagEmpty fails if version.Flag is not empty. We use this to enforce an
// empty flag on release branches and differentiate dev code from production
// code.
func TestFlagEmpty(t *testing.T) {
	if len(Flag) > 0 {
		t.Fatalf("Version Flag is not empty: %s", Flag)
	}
}
