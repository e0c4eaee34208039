// Package memory implements a byte-addressed emulated memory with
// per-byte access rights and typed register views, as used by the GenTL
// device module to back its local register map (and, in a real device
// emulator, the whole ABRM/manifest/SBRM address space).
package memory

import "github.jpl.nasa.gov/bdube/golab/util"

// AccessRight represents the access right of a single memory cell (or the
// meet of a range of cells). The two low bits encode readable/writable:
// bit0 = readable, bit1 = writable.
type AccessRight uint8

// The four access rights, spec.md §3/§4.1.
const (
	NA AccessRight = 0b00
	RO AccessRight = 0b01
	WO AccessRight = 0b10
	RW AccessRight = 0b11
)

// IsReadable reports whether this access right permits reads.
func (a AccessRight) IsReadable() bool {
	return util.GetBit(byte(a), 0)
}

// IsWritable reports whether this access right permits writes.
func (a AccessRight) IsWritable() bool {
	return util.GetBit(byte(a), 1)
}

// AsNum returns the 2-bit encoding of a.
func (a AccessRight) AsNum() uint8 { return uint8(a) }

// FromNum decodes a 2-bit encoding into an AccessRight. num must be in
// [0,3]; any other value panics, mirroring the original's
// debug_assert!(num >> 2 == 0).
func FromNum(num uint8) AccessRight {
	if num>>2 != 0 {
		panic("memory: access right encoding must fit in 2 bits")
	}
	return AccessRight(num)
}

// Meet computes the greatest lower bound of a and rhs in the access-right
// lattice NA <= RO,WO <= RW. Meet is commutative, associative, and
// idempotent; Meet(RW, x) == x and Meet(NA, x) == NA for all x.
func (a AccessRight) Meet(rhs AccessRight) AccessRight {
	switch a {
	case RW:
		return rhs
	case RO:
		if rhs.IsReadable() {
			return a
		}
		return NA
	case WO:
		if rhs.IsWritable() {
			return a
		}
		return NA
	default: // NA
		return NA
	}
}

func (a AccessRight) String() string {
	switch a {
	case NA:
		return "NA"
	case RO:
		return "RO"
	case WO:
		return "WO"
	case RW:
		return "RW"
	default:
		return "invalid"
	}
}
