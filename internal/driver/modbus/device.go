package modbus

import "sync"

// RegisterType is one of the four Modbus register address spaces.
type RegisterType string

const (
	RegisterHolding  RegisterType = "holding"
	RegisterInput    RegisterType = "input"
	RegisterCoil     RegisterType = "coils"
	RegisterDiscrete RegisterType = "discreteInputs"
)

// Device is the remote-register contract this driver polls and scans. Real
// Modbus TCP/RTU transports are out of scope (§1); production deployments
// would implement Device against an actual Modbus client. InMemoryDevice
// below is the simulated device used for tests and for exercising the
// Testable Properties end-to-end without a real PLC.
type Device interface {
	ReadHolding(address, count int) ([]uint16, error)
	ReadInput(address, count int) ([]uint16, error)
	ReadCoils(address, count int) ([]bool, error)
	ReadDiscrete(address, count int) ([]bool, error)

	// Probe reports whether address is a responsive register of the given
	// type, for discovery's batch scan.
	Probe(regType RegisterType, address int) bool
}

// InMemoryDevice is a simulated Modbus register map.
type InMemoryDevice struct {
	mu       sync.RWMutex
	holding  map[int]uint16
	input    map[int]uint16
	coils    map[int]bool
	discrete map[int]bool
}

// NewInMemoryDevice returns an empty simulated device.
func NewInMemoryDevice() *InMemoryDevice {
	return &InMemoryDevice{
		holding:  make(map[int]uint16),
		input:    make(map[int]uint16),
		coils:    make(map[int]bool),
		discrete: make(map[int]bool),
	}
}

// SetHolding seeds a holding register value, interpreting v as the raw
// 16-bit register contents (e.g. SetHolding(100, uint16(int16(-42))) for a
// signed int16 value of -42).
func (d *InMemoryDevice) SetHolding(address int, v uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.holding[address] = v
}

func (d *InMemoryDevice) SetInput(address int, v uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.input[address] = v
}

func (d *InMemoryDevice) SetCoil(address int, v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.coils[address] = v
}

func (d *InMemoryDevice) SetDiscrete(address int, v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.discrete[address] = v
}

func (d *InMemoryDevice) ReadHolding(address, count int) ([]uint16, error) {
	return readWords(d, RegisterHolding, address, count)
}

func (d *InMemoryDevice) ReadInput(address, count int) ([]uint16, error) {
	return readWords(d, RegisterInput, address, count)
}

func (d *InMemoryDevice) ReadCoils(address, count int) ([]bool, error) {
	return readBits(d, RegisterCoil, address, count)
}

func (d *InMemoryDevice) ReadDiscrete(address, count int) ([]bool, error) {
	return readBits(d, RegisterDiscrete, address, count)
}

func readWords(d *InMemoryDevice, regType RegisterType, address, count int) ([]uint16, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	m := d.holding
	if regType == RegisterInput {
		m = d.input
	}

	out := make([]uint16, count)
	for i := 0; i < count; i++ {
		out[i] = m[address+i]
	}
	return out, nil
}

func readBits(d *InMemoryDevice, regType RegisterType, address, count int) ([]bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	m := d.coils
	if regType == RegisterDiscrete {
		m = d.discrete
	}

	out := make([]bool, count)
	for i := 0; i < count; i++ {
		out[i] = m[address+i]
	}
	return out, nil
}

func (d *InMemoryDevice) Probe(regType RegisterType, address int) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	switch regType {
	case RegisterHolding:
		_, ok := d.holding[address]
		return ok
	case RegisterInput:
		_, ok := d.input[address]
		return ok
	case RegisterCoil:
		_, ok := d.coils[address]
		return ok
	case RegisterDiscrete:
		_, ok := d.discrete[address]
		return ok
	default:
		return false
	}
}

var _ Device = (*InMemoryDevice)(nil)
