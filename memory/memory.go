package memory

// Observer is a one-way notification callback fired after a typed write to
// the register it was registered against. Observers cannot veto a write;
// by the time Update is called the byte range has already been updated.
//
// Implementations must not call back into the same Memory from Update —
// spec.md §5: "they must not call back into the same memory".
type Observer interface {
	Update()
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func()

// Update implements Observer.
func (f ObserverFunc) Update() { f() }

// Memory is a contiguous byte-addressed store of size N, plus a parallel
// 2-bit-per-byte access-rights bitmap. It is not internally synchronized:
// spec.md §5 requires single-threaded use or external mutual exclusion
// (the gentl package wraps its owning Device's remote port in a mutex for
// this reason; Memory itself stays bare).
type Memory struct {
	data       []byte
	prot       *protection
	observers  map[string][]Observer
}

// New creates a Memory of the given size, with every byte initially NA
// (not accessible).
func New(size int) *Memory {
	return &Memory{
		data:      make([]byte, size),
		prot:      newProtection(size),
		observers: make(map[string][]Observer),
	}
}

// Size returns the total addressable byte count.
func (m *Memory) Size() int { return len(m.data) }

// ReadRaw returns an immutable view of m.data[lo:hi], honoring host access
// rights: the range must lie within [0, Size()) and every byte in it must
// be readable.
func (m *Memory) ReadRaw(lo, hi int) ([]byte, error) {
	if err := m.prot.verifyRange(lo, hi); err != nil {
		return nil, err
	}
	if !m.prot.rangeAccessRight(lo, hi).IsReadable() {
		return nil, &Error{Kind: ErrAddressNotReadable}
	}
	return m.data[lo:hi], nil
}

// WriteRaw writes data at address, honoring host access rights: the range
// [address, address+len(data)) must lie within [0, Size()) and every byte
// in it must be writable.
func (m *Memory) WriteRaw(address int, data []byte) error {
	hi := address + len(data)
	if err := m.prot.verifyRange(address, hi); err != nil {
		return err
	}
	if !m.prot.rangeAccessRight(address, hi).IsWritable() {
		return &Error{Kind: ErrAddressNotWritable}
	}
	copy(m.data[address:hi], data)
	return nil
}

// readInternal reads raw bytes bypassing host access rights (machine-side,
// temporarily RW), used by the typed Register accessors.
func (m *Memory) readInternal(lo, hi int) ([]byte, error) {
	if err := m.prot.verifyRange(lo, hi); err != nil {
		return nil, err
	}
	return m.data[lo:hi], nil
}

// writeInternal writes raw bytes bypassing host access rights.
func (m *Memory) writeInternal(address int, data []byte) error {
	hi := address + len(data)
	if err := m.prot.verifyRange(address, hi); err != nil {
		return err
	}
	copy(m.data[address:hi], data)
	return nil
}

// SetAccessRight sets the access right of every byte in r's range.
func (m *Memory) SetAccessRight(r Register, ar AccessRight) {
	lo := r.Offset()
	hi := lo + r.Len()
	m.prot.setRange(lo, hi, ar)
}

// AccessRight returns the effective (meet-folded) access right over r's
// range.
func (m *Memory) AccessRight(r Register) AccessRight {
	lo := r.Offset()
	hi := lo + r.Len()
	return m.prot.rangeAccessRight(lo, hi)
}

// RegisterObserver appends obs to the list of observers fired after every
// successful typed write to r. Duplicates are allowed; firing order is
// registration order.
func (m *Memory) RegisterObserver(r Register, obs Observer) {
	m.observers[r.Name()] = append(m.observers[r.Name()], obs)
}

func (m *Memory) fireObservers(r Register) {
	for _, obs := range m.observers[r.Name()] {
		obs.Update()
	}
}

// Register is the untyped descriptor every register implementation
// satisfies, giving Memory enough information to place it in the address
// space and fire its observers.
type Register interface {
	// Name uniquely identifies the register for observer bookkeeping.
	Name() string
	// Offset is the byte offset of the register within its Memory.
	Offset() int
	// Len is the byte length of the register.
	Len() int
}

// TypedRegister is a Register whose byte range parses to and serializes
// from a Go value of type T. Parsing is little-endian for integers and
// nul-terminated, nul-padded UTF-8 for strings; Serialize validates the produced
// byte length matches Len() and returns an ErrInvalidRegisterData error
// otherwise.
type TypedRegister[T any] interface {
	Register
	Parse(data []byte) (T, error)
	Serialize(v T) ([]byte, error)
}

// ReadRegister performs a typed, access-right-bypassing read of r from m.
func ReadRegister[T any](m *Memory, r TypedRegister[T]) (T, error) {
	var zero T
	data, err := m.readInternal(r.Offset(), r.Offset()+r.Len())
	if err != nil {
		return zero, err
	}
	return r.Parse(data)
}

// WriteRegister performs a typed, access-right-bypassing write of v to r in
// m, then fires every observer registered against r. If Serialize fails,
// neither the memory nor the observers are touched.
func WriteRegister[T any](m *Memory, r TypedRegister[T], v T) error {
	data, err := r.Serialize(v)
	if err != nil {
		return err
	}
	if len(data) != r.Len() {
		return &Error{Kind: ErrInvalidRegisterData, Reason: "serialized length does not match register length"}
	}
	if err := m.writeInternal(r.Offset(), data); err != nil {
		return err
	}
	m.fireObservers(r)
	return nil
}
