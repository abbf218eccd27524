package crc

import "testing"

func TestSum16Empty(t *testing.T) {
	if got := Sum16(nil); got != 0 {
		t.Fatalf("Sum16(nil) = %d, want 0", got)
	}
}

func TestSum16Wraps(t *testing.T) {
	data := make([]byte, 1000)
	for i := range data {
		data[i] = 0xff
	}
	want := uint16(len(data) * 0xff)
	if got := Sum16(data); got != want {
		t.Fatalf("Sum16() = %d, want %d", got, want)
	}
}

func TestCCITT16KnownVector(t *testing.T) {
	// "123456789" is the standard CRC-CCITT (0x1021, init 0) check string;
	// the table-driven, non-reflected variant used here yields 0x31C3.
	got := CCITT16([]byte("123456789"))
	if got != 0x31C3 {
		t.Fatalf("CCITT16(\"123456789\") = %#04x, want 0x31c3", got)
	}
}

func TestCCITT16Empty(t *testing.T) {
	if got := CCITT16(nil); got != 0 {
		t.Fatalf("CCITT16(nil) = %#04x, want 0", got)
	}
}
