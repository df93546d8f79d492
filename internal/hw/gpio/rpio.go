package gpio

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/simcam/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// RPiDriver drives the header through go-rpio's memory-mapped registers.
// Requires /dev/gpiomem access or root.
type RPiDriver struct {
	mu      sync.Mutex
	outputs map[int]rpio.Pin
}

// NewRPiDriver maps the GPIO registers.
func NewRPiDriver() (*RPiDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio)")
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("open GPIO: %w (are you running on a Raspberry Pi?)", err)
	}
	return &RPiDriver{outputs: make(map[int]rpio.Pin)}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	if err := checkPin(pin); err != nil {
		return err
	}
	debug.GPIO("SetupPin", pin, mode)

	r.mu.Lock()
	defer r.mu.Unlock()
	p := rpio.Pin(pin)
	switch mode {
	case Input:
		p.Input()
		delete(r.outputs, pin)
	case Output:
		p.Output()
		r.outputs[pin] = p
	default:
		return fmt.Errorf("unknown pin mode: %v", mode)
	}
	return nil
}

// WritePin drives an output pin. The pin must have been set up as output.
func (r *RPiDriver) WritePin(pin int, level Level) error {
	if err := checkPin(pin); err != nil {
		return err
	}
	r.mu.Lock()
	p, ok := r.outputs[pin]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotOutput, pin)
	}

	debug.GPIO("WritePin", pin, level)
	if level == High {
		p.High()
	} else {
		p.Low()
	}
	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	if err := checkPin(pin); err != nil {
		return Low, err
	}
	debug.GPIO("ReadPin", pin, nil)
	if rpio.Pin(pin).Read() == rpio.High {
		return High, nil
	}
	return Low, nil
}

// Close parks every output LOW, returns it to input and unmaps the registers.
func (r *RPiDriver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	debug.Trace("GPIO Close (real driver)")
	for pin, p := range r.outputs {
		debug.Verbose("Releasing strobe pin %d", pin)
		p.Low()
		p.Input()
	}
	r.outputs = make(map[int]rpio.Pin)
	return rpio.Close()
}
