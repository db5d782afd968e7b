package secure

import (
	"bytes"
	"testing"
)

func TestBufferRoundTrip(t *testing.T) {
	t.Parallel()

	// memguard wipes the source slice, keep a copy for comparison.
	secret := []byte("0123456789abcdef0123456789abcdef")
	expected := append([]byte(nil), secret...)

	buf := NewBuffer(secret)
	defer buf.Destroy()

	locked, err := buf.Open()
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer locked.Destroy()

	if !bytes.Equal(locked.Bytes(), expected) {
		t.Error("opened buffer does not match original data")
	}
}

func TestBufferDestroyIdempotent(t *testing.T) {
	t.Parallel()

	buf := NewBuffer([]byte("dek-material-here"))
	buf.Destroy()
	buf.Destroy()

	locked, err := buf.Open()
	if err != nil {
		t.Fatalf("Open() after destroy failed: %v", err)
	}
	defer locked.Destroy()

	if locked.Size() != 0 {
		t.Error("destroyed buffer should open empty")
	}
}

func TestZero(t *testing.T) {
	t.Parallel()

	b := []byte{0x01, 0xFF, 0x10}
	Zero(b)

	for i, v := range b {
		if v != 0 {
			t.Errorf("byte %d not zeroed: %x", i, v)
		}
	}
}
