package protocol

import "testing"

func TestCRC16Empty(t *testing.T) {
	if got := CRC16(nil); got != 0xFFFF {
		t.Errorf("Expected 0xFFFF for empty input, got 0x%04X", got)
	}
}

func TestCRC16AckBlock(t *testing.T) {
	// A bare ACK for sequence 0x11 as emitted by Klipper firmware
	crc := CRC16([]byte{5, 0x11})
	block := []byte{5, 0x11, uint8(crc >> 8), uint8(crc), MessageValueSync}

	n, status := scanFrame(block)
	if status != frameValid || n != 5 {
		t.Errorf("Expected valid 5-byte block, got n=%d status=%d", n, status)
	}
}

func TestCRC16Different(t *testing.T) {
	cases := [][2][]byte{
		{{0x01, 0x02, 0x03}, {0x01, 0x02, 0x04}},
		{{0x00}, {0xFF}},
		{{0x10, 0x20}, {0x20, 0x10}},
	}
	for _, tc := range cases {
		if CRC16(tc[0]) == CRC16(tc[1]) {
			t.Errorf("CRC16 collision for %v and %v: 0x%04X", tc[0], tc[1], CRC16(tc[0]))
		}
	}
}

func TestCRC16DetectsCorruption(t *testing.T) {
	frame, err := AppendFrame(nil, MessageDest, []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("AppendFrame failed: %v", err)
	}
	frame[3] ^= 0x40

	if _, status := scanFrame(frame); status != frameInvalid {
		t.Errorf("Expected corrupted block to be rejected, got status %d", status)
	}
}
