// Package portset implements a fixed-domain bit vector over the TCP/UDP
// port space 0-65535, used to diff observed ingress ranges against an
// allowed-port policy.
package portset

import "fmt"

const (
	// Domain is the number of addressable ports.
	Domain = 65536

	words = Domain / 64
)

// Set is a 65536-bit vector, one bit per port. The zero value is unusable;
// use New.
type Set struct {
	bits []uint64
}

// New returns an empty set covering the full port domain.
func New() *Set {
	return &Set{bits: make([]uint64, words)}
}

// FromPorts builds a set with exactly the given ports set.
func FromPorts(ports ...int) *Set {
	s := New()
	for _, p := range ports {
		if p >= 0 && p < Domain {
			s.bits[p/64] |= 1 << (uint(p) % 64)
		}
	}
	return s
}

// SetRange sets every bit in the inclusive range [from, to]. Values
// outside the domain are clamped; an inverted range is an error.
func (s *Set) SetRange(from, to int) error {
	if from > to {
		return fmt.Errorf("inverted port range %d-%d", from, to)
	}
	if from < 0 {
		from = 0
	}
	if to >= Domain {
		to = Domain - 1
	}
	for p := from; p <= to; p++ {
		s.bits[p/64] |= 1 << (uint(p) % 64)
	}
	return nil
}

// Contains reports whether a port bit is set.
func (s *Set) Contains(port int) bool {
	if port < 0 || port >= Domain {
		return false
	}
	return s.bits[port/64]&(1<<(uint(port)%64)) != 0
}

// Union returns a new set with every bit set in either operand.
func (s *Set) Union(other *Set) *Set {
	out := New()
	for i := range out.bits {
		out.bits[i] = s.bits[i] | other.bits[i]
	}
	return out
}

// Intersect returns a new set with every bit set in both operands.
func (s *Set) Intersect(other *Set) *Set {
	out := New()
	for i := range out.bits {
		out.bits[i] = s.bits[i] & other.bits[i]
	}
	return out
}

// Difference returns a new set with the bits set in s but not in other.
func (s *Set) Difference(other *Set) *Set {
	out := New()
	for i := range out.bits {
		out.bits[i] = s.bits[i] &^ other.bits[i]
	}
	return out
}

// IsZero reports whether no bit is set.
func (s *Set) IsZero() bool {
	for _, w := range s.bits {
		if w != 0 {
			return false
		}
	}
	return true
}

// Count returns the number of set bits.
func (s *Set) Count() int {
	n := 0
	for _, w := range s.bits {
		for ; w != 0; w &= w - 1 {
			n++
		}
	}
	return n
}

// Ports enumerates the set bits in ascending order.
func (s *Set) Ports() []int {
	var ports []int
	for i, w := range s.bits {
		if w == 0 {
			continue
		}
		base := i * 64
		for b := 0; b < 64; b++ {
			if w&(1<<uint(b)) != 0 {
				ports = append(ports, base+b)
			}
		}
	}
	return ports
}
