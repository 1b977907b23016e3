//go:build !portmidi

package portmidi

import (
	"errors"
	"testing"
)

func TestOpen_Unavailable(t *testing.T) {
	drv, closer, err := Open()
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Open() error = %v, want ErrUnavailable", err)
	}
	if drv != nil {
		t.Errorf("Open() driver = %v, want nil", drv)
	}
	if closer != nil {
		t.Error("Open() returned a closer without a driver")
	}
}
