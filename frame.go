package easyboot

import (
	"encoding/binary"
	"time"
)

// Every protocol frame is bounded by a fixed 2-byte header and 2-byte tail.
var (
	frameHeader = []byte{0x55, 0xAA}
	frameTail   = []byte{0x55, 0x55}
)

// AckPattern is the fixed 6-byte frame the device sends to acknowledge
// the immediately preceding frame.
var AckPattern = []byte{0x55, 0xAA, 0xFF, 0xFE, 0x55, 0x55}

// Command frames handled by the application side of the bootloader.
var (
	QueryVersionCmd   = []byte{0x55, 0xAA, 0xFF, 0xDD, 0x55, 0x55}
	QueryDateCmd      = []byte{0x55, 0xAA, 0xFF, 0xCC, 0x55, 0x55}
	TriggerUpgradeCmd = []byte{0x55, 0xAA, 0xFF, 0xEE, 0x55, 0x55}
)

// FrameOverhead is the fixed per-frame cost of a data frame:
// 2B header + 3B remaining + 2B length + 2B checksum + 2B tail.
// Any configured total frame size must exceed it.
const FrameOverhead = 11

// MaxRemaining is the largest byte count representable in the 24-bit
// remaining field of a data frame.
const MaxRemaining = 1<<24 - 1

// FrameChecksum sums data modulo 65536. Data frames carry it over the
// length field concatenated with the payload; the remaining field and
// the frame markers are not covered.
func FrameChecksum(data []byte) uint16 {
	var sum uint16
	for _, b := range data {
		sum += uint16(b)
	}
	return sum
}

// BuildDataFrame serializes one firmware chunk:
//
//	55 AA | remaining:3B BE | length:2B BE | payload | checksum:2B BE | 55 55
//
// remaining is the number of firmware bytes still to send after this
// frame; the device uses it to recognize the final frame.
func BuildDataFrame(payload []byte, remaining int) ([]byte, error) {
	if remaining < 0 || remaining > MaxRemaining {
		return nil, &RemainingRangeError{Remaining: remaining}
	}
	if len(payload) > 0xFFFF {
		return nil, &RemainingRangeError{Remaining: len(payload)}
	}

	buf := make([]byte, 0, len(payload)+FrameOverhead)
	buf = append(buf, frameHeader...)
	buf = append(buf, byte(remaining>>16), byte(remaining>>8), byte(remaining))
	var length [2]byte
	binary.BigEndian.PutUint16(length[:], uint16(len(payload)))
	buf = append(buf, length[:]...)
	buf = append(buf, payload...)
	// Checksum covers length || payload only.
	sum := FrameChecksum(buf[5:])
	var checksum [2]byte
	binary.BigEndian.PutUint16(checksum[:], sum)
	buf = append(buf, checksum[:]...)
	buf = append(buf, frameTail...)
	return buf, nil
}

// BuildFinishFrame serializes the completion handshake:
//
//	55 AA | version:4B BE | date:4B BE | FF FD | 55 55
//
// There is no checksum field. The device stores version and date and
// restarts into the new firmware after acknowledging.
func BuildFinishFrame(version, date uint32) []byte {
	buf := make([]byte, 0, 14)
	buf = append(buf, frameHeader...)
	var u [4]byte
	binary.BigEndian.PutUint32(u[:], version)
	buf = append(buf, u[:]...)
	binary.BigEndian.PutUint32(u[:], date)
	buf = append(buf, u[:]...)
	buf = append(buf, 0xFF, 0xFD)
	buf = append(buf, frameTail...)
	return buf
}

// EncodeDate packs a calendar date as (year<<16)|(month<<8)|day, the
// form carried in the finish frame. The device treats the value as
// opaque; no epoch or timezone is implied.
func EncodeDate(t time.Time) uint32 {
	year, month, day := t.Date()
	return uint32(year)<<16 | uint32(month)<<8 | uint32(day)
}
