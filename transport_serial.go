package easyboot

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

// SerialConfig holds the parameters for opening a serial port.
type SerialConfig struct {
	Port     string          `yaml:"port"`
	Baud     int             `yaml:"baud"`
	DataBits byte            `yaml:"data_bits"`
	Parity   serial.Parity   `yaml:"parity"`
	StopBits serial.StopBits `yaml:"stop_bits"`
}

type serialTransport struct {
	port *serial.Port

	reg registry

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// OpenSerial opens a serial port and starts the background receive loop
// that fans inbound bytes out to subscribed listeners.
func OpenSerial(cfg SerialConfig) (Transport, error) {
	if cfg.Baud == 0 {
		cfg.Baud = 115200
	}
	if cfg.DataBits == 0 {
		cfg.DataBits = 8
	}
	if cfg.Parity == 0 {
		cfg.Parity = serial.ParityNone
	}
	if cfg.StopBits == 0 {
		cfg.StopBits = serial.Stop1
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Port,
		Baud:        cfg.Baud,
		Size:        cfg.DataBits,
		Parity:      cfg.Parity,
		StopBits:    cfg.StopBits,
		ReadTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port %s", cfg.Port)
	}

	// On Linux with USB serial ports, flush only works reliably after a
	// short delay that lets pending data reach the driver.
	time.Sleep(100 * time.Millisecond)
	port.Flush()

	t := &serialTransport{
		port: port,
		done: make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func (t *serialTransport) readLoop() {
	buf := make([]byte, 4096)
	for {
		select {
		case <-t.done:
			return
		default:
		}
		n, err := t.port.Read(buf)
		if err != nil {
			// tarm/serial surfaces the read timeout as io.EOF.
			if err == io.EOF {
				continue
			}
			select {
			case <-t.done:
			default:
				pkgLog.Errorf("serial read failed: %v", err)
			}
			return
		}
		if n == 0 {
			continue
		}
		t.reg.dispatch(buf[:n])
	}
}

func (t *serialTransport) Write(data []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return errors.New("serial port is closed")
	}
	if _, err := t.port.Write(data); err != nil {
		return errors.Wrap(err, "serial write")
	}
	return nil
}

func (t *serialTransport) Subscribe(l Listener) int {
	return t.reg.add(l)
}

func (t *serialTransport) Unsubscribe(id int) {
	t.reg.remove(id)
}

func (t *serialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)
	return t.port.Close()
}

// registry is a synchronized listener set. Delivery holds the registry
// lock, so add and remove cannot race an in-flight dispatch: once
// remove returns, the listener will not be called again.
type registry struct {
	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
}

func (r *registry) add(l Listener) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listeners == nil {
		r.listeners = make(map[int]Listener)
	}
	r.nextID++
	r.listeners[r.nextID] = l
	return r.nextID
}

func (r *registry) remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.listeners, id)
}

func (r *registry) dispatch(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.listeners {
		deliver(l, data)
	}
}

// deliver isolates listener faults so one misbehaving listener cannot
// kill the receive loop.
func deliver(l Listener, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			pkgLog.Errorf("listener panicked: %v", r)
		}
	}()
	l(data)
}
