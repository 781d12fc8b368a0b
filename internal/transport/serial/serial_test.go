package serial

import "testing"

func TestBaudConstantKnownRates(t *testing.T) {
	rates := []int{9600, 19200, 38400, 57600, 115200, 230400}
	for _, rate := range rates {
		opts := Options{BaudRate: rate}
		if _, err := opts.baudConstant(); err != nil {
			t.Errorf("baudConstant(%d) returned error: %v", rate, err)
		}
	}
}

func TestBaudConstantRejectsUnsupportedRate(t *testing.T) {
	opts := Options{BaudRate: 4800}
	if _, err := opts.baudConstant(); err == nil {
		t.Fatal("expected error for unsupported baud rate, got nil")
	}
}
