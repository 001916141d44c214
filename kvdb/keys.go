package kvdb

import (
	"encoding/binary"
	"fmt"
)

// Uint64Key encodes id as an 8-byte big-endian key, so numeric keys sort in
// numeric order.
func Uint64Key(id uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], id)
	return key[:]
}

// ParseUint64Key decodes a key produced by Uint64Key.
func ParseUint64Key(key []byte) (uint64, error) {
	if len(key) != 8 {
		return 0, fmt.Errorf("invalid uint64 key length %d", len(key))
	}
	return binary.BigEndian.Uint64(key), nil
}

// CompositeKey joins parts into one key, length-prefixing each part so that
// variable-length segments cannot collide and a shorter part list is always
// a byte prefix of a longer one. Index stores use this for
// (owner, primary-key) entries.
func CompositeKey(parts ...[]byte) []byte {
	var size int
	for _, part := range parts {
		size += 2 + len(part)
	}

	var key = make([]byte, 0, size)
	for _, part := range parts {
		var length [2]byte
		binary.BigEndian.PutUint16(length[:], uint16(len(part)))
		key = append(key, length[:]...)
		key = append(key, part...)
	}
	return key
}
