package memory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.jpl.nasa.gov/bdube/golab/memory"
)

func TestAccessRightMeetLattice(t *testing.T) {
	rights := []memory.AccessRight{memory.NA, memory.RO, memory.WO, memory.RW}
	for _, a := range rights {
		for _, b := range rights {
			assert.Equal(t, a.Meet(b), b.Meet(a), "meet must be commutative for %v,%v", a, b)
		}
		assert.Equal(t, a, memory.RW.Meet(a), "meet(RW, x) == x")
		assert.Equal(t, memory.NA, memory.NA.Meet(a), "meet(NA, x) == NA")
		assert.Equal(t, a, a.Meet(a), "meet must be idempotent")
	}
	for _, a := range rights {
		for _, b := range rights {
			for _, c := range rights {
				lhs := a.Meet(b).Meet(c)
				rhs := a.Meet(b.Meet(c))
				assert.Equal(t, lhs, rhs, "meet must be associative")
			}
		}
	}
}

func TestAccessRightEncoding(t *testing.T) {
	assert.True(t, memory.RO.IsReadable())
	assert.False(t, memory.RO.IsWritable())
	assert.False(t, memory.WO.IsReadable())
	assert.True(t, memory.WO.IsWritable())
	assert.True(t, memory.RW.IsReadable())
	assert.True(t, memory.RW.IsWritable())
	assert.False(t, memory.NA.IsReadable())
	assert.False(t, memory.NA.IsWritable())

	for _, a := range []memory.AccessRight{memory.NA, memory.RO, memory.WO, memory.RW} {
		assert.Equal(t, a, memory.FromNum(a.AsNum()))
	}
}

// TestProtectionScenario implements spec.md §8 scenario S6.
func TestProtectionScenario(t *testing.T) {
	m := memory.New(5)

	regAt := func(offset int) memory.Raw { return memory.NewRaw("byte", offset, 1) }
	rights := []memory.AccessRight{memory.RO, memory.RW, memory.NA, memory.WO, memory.RO}
	for i, ar := range rights {
		m.SetAccessRight(regAt(i), ar)
	}

	for i, want := range rights {
		assert.Equal(t, want, m.AccessRight(regAt(i)))
	}

	assert.Equal(t, memory.RO, m.AccessRight(memory.NewRaw("r", 0, 2)))
	assert.Equal(t, memory.NA, m.AccessRight(memory.NewRaw("r", 2, 2)))
	assert.Equal(t, memory.NA, m.AccessRight(memory.NewRaw("r", 3, 2)))

	_, err := m.ReadRaw(0, 5)
	require.Error(t, err, "byte 2 is NA, whole range must fail")

	_, err = m.ReadRaw(5, 6)
	require.Error(t, err, "address 5 is out of range for size-5 memory")
}

func TestReadRawRequiresReadable(t *testing.T) {
	m := memory.New(4)
	reg := memory.NewRaw("w", 0, 4)
	m.SetAccessRight(reg, memory.WO)

	_, err := m.ReadRaw(0, 4)
	require.Error(t, err)

	require.NoError(t, m.WriteRaw(0, []byte{1, 2, 3, 4}))
}

func TestWriteRawRequiresWritable(t *testing.T) {
	m := memory.New(4)
	reg := memory.NewRaw("r", 0, 4)
	m.SetAccessRight(reg, memory.RO)

	err := m.WriteRaw(0, []byte{1, 2, 3, 4})
	require.Error(t, err)
}

func TestReadRawOutOfRange(t *testing.T) {
	m := memory.New(4)
	m.SetAccessRight(memory.NewRaw("all", 0, 4), memory.RW)
	_, err := m.ReadRaw(0, 5)
	require.Error(t, err)
}

func TestTypedRegisterRoundTrip(t *testing.T) {
	m := memory.New(16)
	reg := memory.NewUint32Register("test", 0)

	require.NoError(t, memory.WriteRegister[uint32](m, reg, 0xDEADBEEF))
	got, err := memory.ReadRegister[uint32](m, reg)
	require.NoError(t, err)
	assert.EqualValues(t, 0xDEADBEEF, got)
}

func TestTypedRegisterBypassesHostAccessRights(t *testing.T) {
	m := memory.New(16)
	reg := memory.NewUint32Register("test", 0)
	m.SetAccessRight(reg, memory.NA)

	require.NoError(t, memory.WriteRegister[uint32](m, reg, 42))
	got, err := memory.ReadRegister[uint32](m, reg)
	require.NoError(t, err)
	assert.EqualValues(t, 42, got)

	_, hostErr := m.ReadRaw(0, 4)
	require.Error(t, hostErr, "NA range must still reject a host-side read")
}

func TestStringRegisterRoundTrip(t *testing.T) {
	m := memory.New(16)
	reg := memory.NewStringRegister("vendor", 0, 8)

	require.NoError(t, memory.WriteRegister[string](m, reg, "acme"))
	got, err := memory.ReadRegister[string](m, reg)
	require.NoError(t, err)
	assert.Equal(t, "acme", got)
}

func TestStringRegisterTooLongRejected(t *testing.T) {
	m := memory.New(16)
	reg := memory.NewStringRegister("vendor", 0, 4)

	err := memory.WriteRegister[string](m, reg, "acme") // needs room for nul terminator
	require.Error(t, err)

	// memory must be untouched by the failed write.
	m.SetAccessRight(reg, memory.RW)
	data, rerr := m.ReadRaw(0, 4)
	require.NoError(t, rerr)
	assert.Equal(t, []byte{0, 0, 0, 0}, data)
}

type countingObserver struct{ n *int }

func (o countingObserver) Update() { *o.n++ }

func TestObserversFireInRegistrationOrderOnSuccessOnly(t *testing.T) {
	m := memory.New(16)
	reg := memory.NewUint32Register("test", 0)

	var order []int
	m.RegisterObserver(reg, memory.ObserverFunc(func() { order = append(order, 1) }))
	m.RegisterObserver(reg, memory.ObserverFunc(func() { order = append(order, 2) }))

	require.NoError(t, memory.WriteRegister[uint32](m, reg, 1))
	assert.Equal(t, []int{1, 2}, order)
}

func TestObserversDoNotFireOnSerializeFailure(t *testing.T) {
	m := memory.New(16)
	reg := memory.NewStringRegister("vendor", 0, 4)
	fired := 0
	m.RegisterObserver(reg, memory.ObserverFunc(func() { fired++ }))

	err := memory.WriteRegister[string](m, reg, "toolong")
	require.Error(t, err)
	assert.Equal(t, 0, fired)
}
