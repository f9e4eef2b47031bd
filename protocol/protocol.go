// Package protocol implements the Klipper-style wire format spoken between the
// anacomp firmware and its host tool: VLQ argument encoding, CRC16 framed
// blocks with a 4-bit sequence number, and ACK/NAK flow control.
package protocol

import "errors"

// Version of the wire protocol implementation
const Version = "0.1.0"

// Frame layout: len, seq, payload..., crc_hi, crc_lo, sync
const (
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePayloadMax  = MessageLengthMax - MessageLengthMin
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E
	MessageDest        = 0x10
	MessageSeqMask     = 0x0F
)

// OutputMax sizes the MCU-side scratch output. It holds a few frames so that
// a response and its ACK can be flushed together.
const OutputMax = 4 * MessageLengthMax

var (
	ErrInvalidVLQ      = errors.New("invalid VLQ encoding")
	ErrBufferTooSmall  = errors.New("buffer too small for VLQ")
	ErrFrameTooLong    = errors.New("frame exceeds maximum message length")
	ErrAckTimeout      = errors.New("timed out waiting for ACK")
	ErrResponseTimeout = errors.New("timed out waiting for response")
	ErrNak             = errors.New("command not acknowledged")
	ErrClosed          = errors.New("transport closed")
)

// nextSeq advances a sequence byte, keeping the destination bits.
func nextSeq(seq uint8) uint8 {
	return ((seq + 1) & MessageSeqMask) | MessageDest
}

type frameStatus uint8

const (
	frameIncomplete frameStatus = iota
	frameValid
	frameInvalid
)

// scanFrame checks whether data starts with a complete, valid block. On
// frameValid n is the block length.
func scanFrame(data []byte) (n int, status frameStatus) {
	if len(data) < MessageLengthMin {
		return 0, frameIncomplete
	}
	msgLen := int(data[MessagePositionLen])
	if msgLen < MessageLengthMin || msgLen > MessageLengthMax {
		return 0, frameInvalid
	}
	if data[MessagePositionSeq]&^MessageSeqMask != MessageDest {
		return 0, frameInvalid
	}
	if len(data) < msgLen {
		return 0, frameIncomplete
	}
	if data[msgLen-MessageTrailerSync] != MessageValueSync {
		return 0, frameInvalid
	}
	frameCRC := uint16(data[msgLen-MessageTrailerCRC])<<8 |
		uint16(data[msgLen-MessageTrailerCRC+1])
	if frameCRC != CRC16(data[:msgLen-MessageTrailerSize]) {
		return 0, frameInvalid
	}
	return msgLen, frameValid
}

// skipToSync drops everything up to and including the next sync byte. It
// returns nil when no sync byte is present.
func skipToSync(data []byte) ([]byte, bool) {
	for i, b := range data {
		if b == MessageValueSync {
			return data[i+1:], true
		}
	}
	return nil, false
}

// AppendFrame appends a complete block carrying payload to dst.
func AppendFrame(dst []byte, seq uint8, payload []byte) ([]byte, error) {
	msgLen := MessageLengthMin + len(payload)
	if msgLen > MessageLengthMax {
		return dst, ErrFrameTooLong
	}
	start := len(dst)
	dst = append(dst, uint8(msgLen), seq)
	dst = append(dst, payload...)
	crc := CRC16(dst[start:])
	return append(dst, uint8(crc>>8), uint8(crc), MessageValueSync), nil
}
