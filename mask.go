package twist

import "encoding/binary"

// maskBytes XORs b in place with key, key byte index = payload index mod 4.
// Masking and unmasking are the same operation.
//
// Whole 8 byte words are XORed at once. Loading and storing with the same byte
// order makes the result independent of the host's endianness.
func maskBytes(key [4]byte, b []byte) {
	if len(b) >= 8 {
		k := uint64(binary.LittleEndian.Uint32(key[:]))
		k64 := k<<32 | k
		for len(b) >= 32 {
			binary.LittleEndian.PutUint64(b, binary.LittleEndian.Uint64(b)^k64)
			binary.LittleEndian.PutUint64(b[8:], binary.LittleEndian.Uint64(b[8:])^k64)
			binary.LittleEndian.PutUint64(b[16:], binary.LittleEndian.Uint64(b[16:])^k64)
			binary.LittleEndian.PutUint64(b[24:], binary.LittleEndian.Uint64(b[24:])^k64)
			b = b[32:]
		}
		for len(b) >= 8 {
			binary.LittleEndian.PutUint64(b, binary.LittleEndian.Uint64(b)^k64)
			b = b[8:]
		}
	}

	// every word consumed above is 8 bytes, so the tail starts at key index 0.
	for i := range b {
		b[i] ^= key[i%4]
	}
}
