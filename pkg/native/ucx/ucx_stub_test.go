//go:build !ucx

package ucx

import (
    "errors"
    "testing"
)

func TestStubNotAvailable(t *testing.T) {
    p, err := New()
    if !errors.Is(err, ErrNotAvailable) { t.Fatalf("err = %v", err) }
    if p != nil { t.Fatalf("provider = %v", p) }
}
