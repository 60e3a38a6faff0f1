package bits

import "testing"

func TestUbitsByteAligned(t *testing.T) {
	buf := []byte{0xD3, 0x00, 0x13}
	if got := Ubits(buf, 0, 8, false); got != 0xD3 {
		t.Fatalf("Ubits preamble = %#x, want 0xd3", got)
	}
	// next 6 bits of byte 1 (0x00) followed by 10-bit length field per
	// the RTCM3 frame shape: preamble(8) reserved(6) length(10)
	if got := Ubits(buf, 14, 10, false); got != 0x13 {
		t.Fatalf("Ubits length = %#x, want 0x13", got)
	}
}

func TestSbitsSignExtend(t *testing.T) {
	// 0b1111111 (7 bits, all set) as a 7-bit field should be -1
	buf := []byte{0xFE} // top 7 bits = 1111111, last bit = 0
	if got := Sbits(buf, 0, 7, false); got != -1 {
		t.Fatalf("Sbits = %d, want -1", got)
	}
	// 0b0000001 as 7-bit field is +1
	buf2 := []byte{0x02} // 0000001 0
	if got := Sbits(buf2, 0, 7, false); got != 1 {
		t.Fatalf("Sbits = %d, want 1", got)
	}
}

func TestUbitsLittleEndianReversesBitString(t *testing.T) {
	buf := []byte{0b10110000}
	be := Ubits(buf, 0, 4, false) // 1011 = 11
	le := Ubits(buf, 0, 4, true)  // reversed -> 1101 = 13
	if be != 0b1011 {
		t.Fatalf("be = %b, want 1011", be)
	}
	if le != 0b1101 {
		t.Fatalf("le = %b, want 1101", le)
	}
}

func TestWidthOutOfRangeReturnsZero(t *testing.T) {
	buf := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	if got := Ubits(buf, 0, 0, false); got != 0 {
		t.Fatalf("width 0 = %d, want 0", got)
	}
	if got := Ubits(buf, 0, MaxWidth+1, false); got != 0 {
		t.Fatalf("width > max = %d, want 0", got)
	}
	if got := Sbits(buf, 0, 0, false); got != 0 {
		t.Fatalf("sbits width 0 = %d, want 0", got)
	}
}

func TestShiftLeft(t *testing.T) {
	data := []byte{0b00000001, 0b00000000}
	out := ShiftLeft(data, 1)
	want := []byte{0b00000010, 0b00000000}
	if out[0] != want[0] || out[1] != want[1] {
		t.Fatalf("ShiftLeft = %08b %08b, want %08b %08b", out[0], out[1], want[0], want[1])
	}
}

func TestByteAlignedIntegers(t *testing.T) {
	buf := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	if U16LE(buf, 0) != 0x0201 {
		t.Fatalf("U16LE mismatch")
	}
	if U16BE(buf, 0) != 0x0102 {
		t.Fatalf("U16BE mismatch")
	}
	if U32LE(buf, 0) != 0x04030201 {
		t.Fatalf("U32LE mismatch")
	}
	if U32BE(buf, 0) != 0x01020304 {
		t.Fatalf("U32BE mismatch")
	}
	if I16LE(buf, 6) != I16LE([]byte{0x07, 0x08}, 0) {
		t.Fatalf("I16LE offset mismatch")
	}
}

func TestFloatBitReinterpretation(t *testing.T) {
	// 1.0f as IEEE-754 single precision, little endian bytes.
	buf := []byte{0x00, 0x00, 0x80, 0x3F}
	if got := F32LE(buf, 0); got != 1.0 {
		t.Fatalf("F32LE = %v, want 1.0", got)
	}
	be := []byte{0x3F, 0x80, 0x00, 0x00}
	if got := F32BE(be, 0); got != 1.0 {
		t.Fatalf("F32BE = %v, want 1.0", got)
	}
}
