package stage

import (
	"encoding/binary"
	"fmt"
)

// Wire frames are fixed-width, little-endian, and addressed by the
// zero-based internal channel index. The protocol has no CRC; the channel
// echo in position responses is the only integrity check available, so it
// is verified on every read.

const positionResponseLen = 12

// encodeQueryPosition builds the query-position request for a channel
// index. The device answers with a 12-byte response.
func encodeQueryPosition(index int) []byte {
	return []byte{0x0a, 0x04, byte(index), 0x00, 0x00, 0x00}
}

// encodeZeroEncoder builds the request that resets a channel's encoder to
// zero. No response follows.
func encodeZeroEncoder(index int) []byte {
	cmd := make([]byte, 12)
	copy(cmd, []byte{0x09, 0x04, 0x06, 0x00, 0x00, 0x00})
	binary.LittleEndian.PutUint16(cmd[6:8], uint16(index))
	// trailing four bytes carry the new encoder value, zero
	return cmd
}

// encodeMoveTo builds the absolute move request carrying the signed target
// encoder value. No response follows.
func encodeMoveTo(index int, target int32) []byte {
	cmd := make([]byte, 12)
	copy(cmd, []byte{0x53, 0x04, 0x06, 0x00, 0x00, 0x00})
	binary.LittleEndian.PutUint16(cmd[6:8], uint16(index))
	binary.LittleEndian.PutUint32(cmd[8:12], uint32(target))
	return cmd
}

// decodePositionResponse extracts the encoder value from a query-position
// response, verifying the echoed channel index matches the request. A
// mismatch means the reply belongs to another channel and cannot be trusted.
func decodePositionResponse(resp []byte, index int) (int32, error) {
	if len(resp) != positionResponseLen {
		return 0, fmt.Errorf("%w: position response is %d bytes, want %d",
			ErrLinkDesync, len(resp), positionResponseLen)
	}
	if resp[6] != byte(index) {
		return 0, fmt.Errorf("%w: response echoes channel index %d, want %d",
			ErrProtocolMismatch, resp[6], index)
	}
	return int32(binary.LittleEndian.Uint32(resp[8:12])), nil
}
