package easyboot

import (
	"fmt"
	"time"
)

// FormatError reports a malformed firmware file. For Intel HEX files
// Line holds the 1-based line number of the offending record.
type FormatError struct {
	Line int
	Msg  string
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	}
	return e.Msg
}

// BaseMismatchError is returned when the base address decoded from a HEX
// file does not match the configured application base address. The upload
// is refused before any byte reaches the device.
type BaseMismatchError struct {
	Decoded    uint32
	Configured uint32
}

func (e *BaseMismatchError) Error() string {
	return fmt.Sprintf("hex base address 0x%08X does not match configured app base 0x%08X",
		e.Decoded, e.Configured)
}

// RemainingRangeError is returned by BuildDataFrame when the remaining
// byte count does not fit the 24-bit wire field.
type RemainingRangeError struct {
	Remaining int
}

func (e *RemainingRangeError) Error() string {
	return fmt.Sprintf("remaining byte count %d outside 24-bit range", e.Remaining)
}

// AckTimeoutError is returned when the device does not acknowledge a
// frame within the active timeout window. First distinguishes the long
// first-frame window (which covers flash erase) from the short window
// used for every later frame.
type AckTimeoutError struct {
	First  bool
	Window time.Duration
}

func (e *AckTimeoutError) Error() string {
	which := "frame"
	if e.First {
		which = "first frame"
	}
	return fmt.Sprintf("no ack for %s within %v", which, e.Window)
}
