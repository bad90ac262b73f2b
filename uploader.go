// Package easyboot implements the host side of the Easy Bootloader
// serial upgrade protocol.
//
// The package contains two main components: Transport and Uploader.
// Transport provides byte-level access to the device with a subscribed
// receive path; OpenSerial returns the serial implementation. Uploader
// drives a complete firmware upload: it loads an Intel HEX or raw binary
// image, chunks it into checksummed data frames, sends each frame and
// waits for the device acknowledgement, then closes the attempt with a
// finish frame carrying version and date metadata.
//
// Also included is a command line tool, found in the cmd/easyboot
// directory, that serves as both an example on how to use the library
// and a fully functional host program for upgrading devices.
package easyboot

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// State identifies the uploader's position within an attempt.
type State int32

const (
	StateIdle State = iota
	StatePreparing
	StateSending
	StateAwaitingFinishAck
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StateSending:
		return "sending"
	case StateAwaitingFinishAck:
		return "awaiting finish ack"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Defaults matching the device-side bootloader.
const (
	// DefaultAppBaseAddr is the flash address the application image is
	// expected to start at.
	DefaultAppBaseAddr = 0x08010000
	// DefaultFrameSize is the default total on-wire size of a data frame.
	DefaultFrameSize = 1024

	// The first frame triggers a full flash erase on the device, so its
	// ack can take far longer than any later one.
	defaultFirstAckTimeout = 10 * time.Second
	defaultAckTimeout      = 5 * time.Second
)

// UploaderConfig configures an Uploader. The zero value of every field
// selects a sensible default.
type UploaderConfig struct {
	// AppBaseAddr is the flash address the application image must start
	// at. A HEX image whose decoded base differs aborts the upload
	// before anything is sent.
	AppBaseAddr uint32
	// FrameSize is the total on-wire size of a data frame, including
	// the fixed overhead. Must exceed FrameOverhead.
	FrameSize int
	// Version and Date are carried in the finish frame. Date is packed
	// as (year<<16)|(month<<8)|day and defaults to the current date.
	Version uint32
	Date    uint32

	// Timeout overrides, mainly for tests.
	FirstAckTimeout time.Duration
	AckTimeout      time.Duration
}

// Uploader drives one firmware upload attempt at a time over a
// Transport. Create it with NewUploader, then call Start; progress and
// the final outcome are reported through the optional callbacks, which
// are invoked from the upload goroutine and must return quickly.
type Uploader struct {
	transport  Transport
	cfg        UploaderConfig
	maxPayload int

	// OnProgress, if set, is called after every acknowledged data frame.
	OnProgress func(sent, total, percent int)
	// OnComplete, if set, is called exactly once per attempt with the
	// final outcome.
	OnComplete func(ok bool)

	state int32

	mu         sync.Mutex
	running    bool
	cancel     chan struct{}
	ackCh      chan struct{}
	matcher    *AckMatcher
	subID      int
	subscribed bool

	sent  int
	total int
}

// NewUploader creates an Uploader for the given transport. The
// configured frame size must exceed the fixed frame overhead.
func NewUploader(t Transport, cfg UploaderConfig) (*Uploader, error) {
	if cfg.FrameSize == 0 {
		cfg.FrameSize = DefaultFrameSize
	}
	if cfg.FrameSize <= FrameOverhead {
		return nil, errors.Errorf("frame size %d must exceed the %d byte frame overhead",
			cfg.FrameSize, FrameOverhead)
	}
	if cfg.AppBaseAddr == 0 {
		cfg.AppBaseAddr = DefaultAppBaseAddr
	}
	if cfg.Date == 0 {
		cfg.Date = EncodeDate(time.Now())
	}
	if cfg.FirstAckTimeout == 0 {
		cfg.FirstAckTimeout = defaultFirstAckTimeout
	}
	if cfg.AckTimeout == 0 {
		cfg.AckTimeout = defaultAckTimeout
	}
	return &Uploader{
		transport:  t,
		cfg:        cfg,
		maxPayload: cfg.FrameSize - FrameOverhead,
	}, nil
}

// State returns the uploader's current state.
func (u *Uploader) State() State {
	return State(atomic.LoadInt32(&u.state))
}

func (u *Uploader) setState(s State) {
	atomic.StoreInt32(&u.state, int32(s))
	pkgLog.Debugf("uploader state: %v", s)
}

// Running reports whether an attempt is in flight.
func (u *Uploader) Running() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.running
}

// Progress returns the byte counts of the current or last attempt.
func (u *Uploader) Progress() (sent, total int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.sent, u.total
}

// Start begins uploading the firmware file at path in the background.
// If an attempt is already running the call is logged and ignored;
// Start reports whether a new attempt was launched.
func (u *Uploader) Start(path string) bool {
	u.mu.Lock()
	if u.running {
		u.mu.Unlock()
		pkgLog.Infof("upload already in progress, ignoring start request")
		return false
	}
	u.running = true
	u.cancel = make(chan struct{})
	u.sent, u.total = 0, 0
	u.mu.Unlock()

	u.setState(StatePreparing)
	go u.run(path)
	return true
}

// Cancel aborts the in-flight attempt, if any, at its next wait point.
// The attempt tears down normally and reports failure.
func (u *Uploader) Cancel() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.running || u.cancel == nil {
		return
	}
	select {
	case <-u.cancel:
	default:
		close(u.cancel)
	}
}

func (u *Uploader) run(path string) {
	ok := u.attempt(path)

	u.mu.Lock()
	u.running = false
	u.mu.Unlock()

	if ok {
		u.setState(StateDone)
	} else {
		u.setState(StateAborted)
	}
	if u.OnComplete != nil {
		u.OnComplete(ok)
	}
}

// attempt runs one complete upload. Its boolean result is the attempt
// outcome; every failure path has already been logged.
func (u *Uploader) attempt(path string) bool {
	img, err := LoadFirmware(path)
	if err != nil {
		pkgLog.Errorf("load firmware: %v", err)
		return false
	}
	if img == nil || len(img.Data) == 0 {
		pkgLog.Infof("firmware file contains no data, upload cancelled")
		return false
	}
	if img.HasBaseAddr && img.BaseAddr != u.cfg.AppBaseAddr {
		err := &BaseMismatchError{Decoded: img.BaseAddr, Configured: u.cfg.AppBaseAddr}
		pkgLog.Errorf("%v, upload aborted", err)
		return false
	}

	total := len(img.Data)
	u.mu.Lock()
	u.total = total
	u.mu.Unlock()
	pkgLog.Infof("uploading %s (%d bytes, %d byte payload per frame)",
		filepath.Base(path), total, u.maxPayload)

	u.register()
	defer u.deregister()

	u.setState(StateSending)
	offset := 0
	for offset < total {
		end := offset + u.maxPayload
		if end > total {
			end = total
		}
		chunk := img.Data[offset:end]
		remaining := total - end

		frame, err := BuildDataFrame(chunk, remaining)
		if err != nil {
			pkgLog.Errorf("build data frame: %v", err)
			return false
		}

		// Drop any stale signal so the wait below can only be satisfied
		// by an ack for this frame.
		u.clearAck()
		if err := u.transport.Write(frame); err != nil {
			pkgLog.Errorf("send data frame: %v", err)
			return false
		}

		first := offset == 0
		window := u.cfg.AckTimeout
		if first {
			window = u.cfg.FirstAckTimeout
		}
		if err := u.waitAck(window, first); err != nil {
			pkgLog.Errorf("%v, upload aborted", err)
			return false
		}

		offset = end
		u.reportProgress(offset, total)
	}

	u.setState(StateAwaitingFinishAck)
	pkgLog.Infof("all data sent, sending finish frame (version=%d date=0x%08X)",
		u.cfg.Version, u.cfg.Date)
	u.clearAck()
	if err := u.transport.Write(BuildFinishFrame(u.cfg.Version, u.cfg.Date)); err != nil {
		pkgLog.Errorf("send finish frame: %v", err)
		return false
	}
	if err := u.waitAck(u.cfg.AckTimeout, false); err != nil {
		pkgLog.Errorf("%v, upload aborted", err)
		return false
	}

	pkgLog.Infof("upgrade complete, device restarting into new firmware")
	return true
}

// register subscribes the ack matcher on the transport, exactly once
// per attempt, with a fresh signal channel and buffer.
func (u *Uploader) register() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.subscribed {
		return
	}
	u.ackCh = make(chan struct{}, 1)
	ackCh := u.ackCh
	u.matcher = NewAckMatcher(func() {
		// Edge-triggered: a second ack for the same frame collapses
		// into the still-pending signal.
		select {
		case ackCh <- struct{}{}:
		default:
		}
	})
	u.subID = u.transport.Subscribe(u.matcher.Feed)
	u.subscribed = true
}

// deregister removes the listener and clears all ack state. Safe to
// call more than once.
func (u *Uploader) deregister() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.subscribed {
		return
	}
	u.transport.Unsubscribe(u.subID)
	u.subscribed = false
	u.matcher.Reset()
	select {
	case <-u.ackCh:
	default:
	}
}

func (u *Uploader) clearAck() {
	select {
	case <-u.ackCh:
	default:
	}
}

func (u *Uploader) waitAck(window time.Duration, first bool) error {
	timer := time.NewTimer(window)
	defer timer.Stop()
	select {
	case <-u.ackCh:
		return nil
	case <-u.cancel:
		return errors.New("upload cancelled")
	case <-timer.C:
		return &AckTimeoutError{First: first, Window: window}
	}
}

func (u *Uploader) reportProgress(sent, total int) {
	u.mu.Lock()
	u.sent = sent
	u.mu.Unlock()

	percent := sent * 100 / total
	pkgLog.Debugf("sent %d/%d bytes (%d%%)", sent, total, percent)
	if u.OnProgress != nil {
		u.OnProgress(sent, total, percent)
	}
}
