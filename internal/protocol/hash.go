package protocol

import "math/bits"

// LoginHash computes the GG login hash: the Pascal-era mixing function
// the client and server both run over the account password bytes and
// a per-connection seed (spec §4.1). All arithmetic wraps at 32 bits
// by construction (uint32).
func LoginHash(password []byte, seed uint32) uint32 {
	var x, y uint32 = 0, seed

	for _, b := range password {
		x = (x & 0xFFFFFF00) | uint32(b)
		y ^= x
		y += x
		x <<= 8
		y ^= x
		x <<= 8
		y -= x
		x <<= 8
		y ^= x
		z := y & 0x1F
		y = bits.RotateLeft32(y, int(z))
	}

	return y
}
