package webauthn

import "encoding/binary"

// BytesToWords packs b into big-endian 32-bit words. A trailing partial word
// is right-padded with zeros and rem holds how many of its bytes are real.
func BytesToWords(b []byte) (words []uint32, rem int) {
	rem = len(b) % 4
	words = make([]uint32, 0, (len(b)+3)/4)
	for i := 0; i+4 <= len(b); i += 4 {
		words = append(words, binary.BigEndian.Uint32(b[i:i+4]))
	}
	if rem > 0 {
		var last [4]byte
		copy(last[:], b[len(b)-rem:])
		words = append(words, binary.BigEndian.Uint32(last[:]))
	}
	return words, rem
}

// WordsToBytes is the inverse of BytesToWords.
func WordsToBytes(words []uint32, rem int) []byte {
	b := make([]byte, 4*len(words))
	for i, w := range words {
		binary.BigEndian.PutUint32(b[4*i:], w)
	}
	if rem > 0 && len(words) > 0 {
		b = b[:len(b)-4+rem]
	}
	return b
}
