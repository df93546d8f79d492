// Package gpio abstracts the Raspberry Pi header used for the strobe
// trigger-out line.
package gpio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cjeanneret/simcam/internal/debug"
)

// MaxPin is the highest BCM GPIO number on the 40-pin header.
const MaxPin = 27

var (
	ErrInvalidPin = errors.New("gpio: pin out of range")
	ErrNotOutput  = errors.New("gpio: pin is not configured as output")
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "HIGH"
	}
	return "LOW"
}

// PinMode indicates whether a GPIO is input or output.
type PinMode int

const (
	Input PinMode = iota
	Output
)

func (m PinMode) String() string {
	switch m {
	case Input:
		return "input"
	case Output:
		return "output"
	default:
		return fmt.Sprintf("PinMode(%d)", int(m))
	}
}

// Driver drives GPIO pins by BCM number.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// NewDriver returns a MockDriver when mock is set, otherwise the go-rpio driver.
func NewDriver(mock bool) (Driver, error) {
	if mock {
		debug.Info("Using MOCK GPIO driver (development mode)")
		return NewMockDriver(), nil
	}
	return NewRPiDriver()
}

func checkPin(pin int) error {
	if pin < 0 || pin > MaxPin {
		return fmt.Errorf("%w: %d (0-%d)", ErrInvalidPin, pin, MaxPin)
	}
	return nil
}

// MockDriver keeps pin modes and levels in memory. Writes to a pin that was
// set up as input fail like they would on a misconfigured board; writes to
// a pin never set up are accepted.
type MockDriver struct {
	mu     sync.Mutex
	modes  map[int]PinMode
	levels map[int]Level
	writes int
	closed bool
}

// NewMockDriver returns an empty mock. The zero value is also ready to use.
func NewMockDriver() *MockDriver {
	return &MockDriver{}
}

func (m *MockDriver) init() {
	if m.modes == nil {
		m.modes = make(map[int]PinMode)
		m.levels = make(map[int]Level)
	}
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	if err := checkPin(pin); err != nil {
		return err
	}
	debug.GPIO("SetupPin", pin, mode)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	m.modes[pin] = mode
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	if err := checkPin(pin); err != nil {
		return err
	}
	debug.GPIO("WritePin", pin, level)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if mode, ok := m.modes[pin]; ok && mode != Output {
		return fmt.Errorf("%w: %d", ErrNotOutput, pin)
	}
	m.levels[pin] = level
	m.writes++
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	if err := checkPin(pin); err != nil {
		return Low, err
	}
	debug.GPIO("ReadPin", pin, nil)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[pin], nil
}

// Writes returns the number of successful WritePin calls.
func (m *MockDriver) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Closed reports whether Close was called.
func (m *MockDriver) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close parks every output LOW, as the real driver does.
func (m *MockDriver) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	debug.Trace("GPIO Close (mock)")
	for pin, mode := range m.modes {
		if mode == Output {
			m.levels[pin] = Low
		}
	}
	m.closed = true
	return nil
}
