// Package bitvec implements the ordered bit sequences shifted through a JTAG
// scan chain.
//
// A Vector is a sequence of bits indexed from 0, where bit 0 is the first bit
// clocked onto the wire (TDI) or the first bit captured from it (TDO). Bits
// are packed LSB-first into bytes, which matches the order the debug hardware
// serializes its scan buffers. Lengths do not have to be byte-aligned.
package bitvec

import (
	"fmt"
)

// Order selects how a byte slice is read as an unsigned integer when
// constructing a Vector, and how a Vector is packed back into bytes.
type Order int

const (
	// Little treats data[0] as the least significant byte: its bit 0
	// becomes Vector bit 0 and is the first bit on the wire.
	Little Order = iota
	// Big treats data[0] as the most significant byte: the final byte's
	// bit 0 becomes Vector bit 0.
	Big
)

// Vector is a fixed-length sequence of bits. The zero value is an empty
// vector. Operations that produce a new Vector never alias the receiver's
// storage.
type Vector struct {
	data []byte // LSB-first packing: bit i lives at data[i/8] bit i%8
	bits int
}

// New returns an all-zero vector of the given bit length.
func New(bits int) *Vector {
	if bits < 0 {
		panic("bitvec: negative length")
	}
	return &Vector{data: make([]byte, (bits+7)/8), bits: bits}
}

// Ones returns an all-ones vector of the given bit length.
func Ones(bits int) *Vector {
	v := New(bits)
	for i := range v.data {
		v.data[i] = 0xff
	}
	v.maskTail()
	return v
}

// FromBytes interprets data as an unsigned integer in the given byte order
// and returns its bit vector. The result is len(data)*8 bits long.
func FromBytes(data []byte, order Order) *Vector {
	v := New(len(data) * 8)
	switch order {
	case Little:
		copy(v.data, data)
	case Big:
		for i, b := range data {
			v.data[len(data)-1-i] = b
		}
	default:
		panic(fmt.Sprintf("bitvec: unknown byte order %d", order))
	}
	return v
}

// FromUint returns the low bits of value as a vector of the given length.
// Bit 0 of the result is the least significant bit of value.
func FromUint(value uint64, bits int) *Vector {
	if bits > 64 {
		panic("bitvec: FromUint length exceeds 64 bits")
	}
	v := New(bits)
	for i := 0; i < bits; i++ {
		if value&(1<<uint(i)) != 0 {
			v.data[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return v
}

// Len returns the length of the vector in bits.
func (v *Vector) Len() int {
	return v.bits
}

// Bit reports the value of bit i.
func (v *Vector) Bit(i int) bool {
	v.check(i)
	return v.data[i/8]&(1<<(uint(i)%8)) != 0
}

// SetBit sets bit i to val.
func (v *Vector) SetBit(i int, val bool) {
	v.check(i)
	if val {
		v.data[i/8] |= 1 << (uint(i) % 8)
	} else {
		v.data[i/8] &^= 1 << (uint(i) % 8)
	}
}

// Uint returns the vector's value as an unsigned integer. Vectors longer
// than 64 bits are truncated to their low 64 bits.
func (v *Vector) Uint() uint64 {
	var val uint64
	n := v.bits
	if n > 64 {
		n = 64
	}
	for i := 0; i < n; i++ {
		if v.Bit(i) {
			val |= 1 << uint(i)
		}
	}
	return val
}

// Uint32 returns the vector's value truncated to 32 bits.
func (v *Vector) Uint32() uint32 {
	return uint32(v.Uint())
}

// Bytes packs the vector into (Len()+7)/8 bytes in the given byte order.
// For lengths that are not byte-aligned the spare high bits are zero, so
// FromBytes(v.Bytes(order), order) round-trips byte-aligned vectors.
func (v *Vector) Bytes(order Order) []byte {
	out := make([]byte, len(v.data))
	switch order {
	case Little:
		copy(out, v.data)
	case Big:
		for i, b := range v.data {
			out[len(v.data)-1-i] = b
		}
	default:
		panic(fmt.Sprintf("bitvec: unknown byte order %d", order))
	}
	return out
}

// Slice returns bits [from, to) as a new vector.
func (v *Vector) Slice(from, to int) *Vector {
	if from < 0 || to < from || to > v.bits {
		panic(fmt.Sprintf("bitvec: slice [%d:%d) out of range for %d bits", from, to, v.bits))
	}
	out := New(to - from)
	for i := from; i < to; i++ {
		out.SetBit(i-from, v.Bit(i))
	}
	return out
}

// Concat returns a new vector holding v's bits followed by other's bits;
// v's bit 0 remains bit 0 of the result.
func (v *Vector) Concat(other *Vector) *Vector {
	out := New(v.bits + other.bits)
	for i := 0; i < v.bits; i++ {
		out.SetBit(i, v.Bit(i))
	}
	for i := 0; i < other.bits; i++ {
		out.SetBit(v.bits+i, other.Bit(i))
	}
	return out
}

// ReverseBits returns a new vector with the whole bit order reversed: bit i
// of the result is bit Len()-1-i of v. Applied to a byte-aligned vector this
// reverses the byte sequence and the bit order inside every byte at once,
// which is exactly the transform that converts an MSB-first byte stream into
// JTAG's LSB-first shift order. It is its own inverse.
func (v *Vector) ReverseBits() *Vector {
	out := New(v.bits)
	for i := 0; i < v.bits; i++ {
		out.SetBit(i, v.Bit(v.bits-1-i))
	}
	return out
}

// ReverseBytes returns a new vector with the byte elements in reverse order
// while the bit order inside each byte is preserved. The vector length must
// be a multiple of 8.
func (v *Vector) ReverseBytes() *Vector {
	if v.bits%8 != 0 {
		panic(fmt.Sprintf("bitvec: ReverseBytes on %d bits (not byte aligned)", v.bits))
	}
	out := New(v.bits)
	for i := range v.data {
		out.data[len(v.data)-1-i] = v.data[i]
	}
	return out
}

// LeadingOnes counts the ones before the first zero bit, starting at bit 0.
// A vector with no zero bit returns Len().
func (v *Vector) LeadingOnes() int {
	for i := 0; i < v.bits; i++ {
		if !v.Bit(i) {
			return i
		}
	}
	return v.bits
}

// Equal reports whether both vectors have the same length and bits.
func (v *Vector) Equal(other *Vector) bool {
	if v.bits != other.bits {
		return false
	}
	for i := range v.data {
		if v.data[i] != other.data[i] {
			return false
		}
	}
	return true
}

// String renders the vector as its length and big-endian hex value.
func (v *Vector) String() string {
	if v.bits == 0 {
		return "0 bits"
	}
	return fmt.Sprintf("%d bits: 0x%02x", v.bits, v.Bytes(Big))
}

func (v *Vector) check(i int) {
	if i < 0 || i >= v.bits {
		panic(fmt.Sprintf("bitvec: bit %d out of range for %d bits", i, v.bits))
	}
}

// maskTail clears the unused high bits of the final byte so that Equal and
// Bytes see canonical storage.
func (v *Vector) maskTail() {
	if v.bits%8 != 0 {
		v.data[len(v.data)-1] &= byte(1<<(uint(v.bits)%8)) - 1
	}
}
