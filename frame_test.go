package easyboot

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestBuildDataFrame(t *testing.T) {
	tests := []struct {
		name      string
		payload   []byte
		remaining int
		want      []byte
	}{
		{
			name:      "three byte payload",
			payload:   []byte{0x01, 0x02, 0x03},
			remaining: 200,
			want: []byte{
				0x55, 0xAA, // header
				0x00, 0x00, 0xC8, // remaining
				0x00, 0x03, // length
				0x01, 0x02, 0x03, // payload
				0x00, 0x09, // checksum over length||payload
				0x55, 0x55, // tail
			},
		},
		{
			name:      "empty payload final frame",
			payload:   nil,
			remaining: 0,
			want: []byte{
				0x55, 0xAA,
				0x00, 0x00, 0x00,
				0x00, 0x00,
				0x00, 0x00,
				0x55, 0x55,
			},
		},
		{
			name:      "maximum remaining",
			payload:   []byte{0xFF},
			remaining: MaxRemaining,
			want: []byte{
				0x55, 0xAA,
				0xFF, 0xFF, 0xFF,
				0x00, 0x01,
				0xFF,
				0x01, 0x00, // 0x0001 + 0xFF
				0x55, 0x55,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildDataFrame(tt.payload, tt.remaining)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("frame = % X, want % X", got, tt.want)
			}
			if len(got) != len(tt.payload)+FrameOverhead {
				t.Errorf("frame length = %d, want payload+%d", len(got), FrameOverhead)
			}
		})
	}
}

func TestBuildDataFrameRoundTrip(t *testing.T) {
	payload := make([]byte, 100)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	const remaining = 0x0101FE

	frame, err := BuildDataFrame(payload, remaining)
	if err != nil {
		t.Fatal(err)
	}

	gotRemaining := int(frame[2])<<16 | int(frame[3])<<8 | int(frame[4])
	if gotRemaining != remaining {
		t.Errorf("remaining = %d, want %d", gotRemaining, remaining)
	}
	gotLen := int(binary.BigEndian.Uint16(frame[5:7]))
	if gotLen != len(payload) {
		t.Errorf("length = %d, want %d", gotLen, len(payload))
	}
	if !bytes.Equal(frame[7:7+gotLen], payload) {
		t.Error("payload does not round-trip")
	}
	gotSum := binary.BigEndian.Uint16(frame[7+gotLen : 9+gotLen])
	if want := FrameChecksum(frame[5 : 7+gotLen]); gotSum != want {
		t.Errorf("checksum = %04X, want %04X", gotSum, want)
	}
}

func TestBuildDataFrameRemainingRange(t *testing.T) {
	for _, remaining := range []int{-1, MaxRemaining + 1} {
		_, err := BuildDataFrame([]byte{0x00}, remaining)
		var re *RemainingRangeError
		if !errors.As(err, &re) {
			t.Errorf("remaining %d: error = %v, want *RemainingRangeError", remaining, err)
		}
	}
}

func TestBuildFinishFrame(t *testing.T) {
	got := BuildFinishFrame(0x00000102, 0x07EA081E)
	want := []byte{
		0x55, 0xAA,
		0x00, 0x00, 0x01, 0x02, // version
		0x07, 0xEA, 0x08, 0x1E, // date
		0xFF, 0xFD,
		0x55, 0x55,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("frame = % X, want % X", got, want)
	}
	if len(got) != 14 {
		t.Errorf("frame length = %d, want 14", len(got))
	}
}

func TestEncodeDate(t *testing.T) {
	got := EncodeDate(time.Date(2026, time.August, 30, 12, 0, 0, 0, time.UTC))
	if got != 0x07EA081E {
		t.Errorf("EncodeDate = %08X, want 07EA081E", got)
	}
}

func TestFixedFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  []byte
	}{
		{"ack", AckPattern, []byte{0x55, 0xAA, 0xFF, 0xFE, 0x55, 0x55}},
		{"query version", QueryVersionCmd, []byte{0x55, 0xAA, 0xFF, 0xDD, 0x55, 0x55}},
		{"query date", QueryDateCmd, []byte{0x55, 0xAA, 0xFF, 0xCC, 0x55, 0x55}},
		{"trigger upgrade", TriggerUpgradeCmd, []byte{0x55, 0xAA, 0xFF, 0xEE, 0x55, 0x55}},
	}
	for _, tt := range tests {
		if !bytes.Equal(tt.frame, tt.want) {
			t.Errorf("%s = % X, want % X", tt.name, tt.frame, tt.want)
		}
	}
}
