package badger

import "github.com/poiesic/sift/storage"

// fullKey prefixes a database key with its one-byte database tag so every
// logical database occupies its own contiguous key range.
func fullKey(db storage.Database, key []byte) []byte {
	buf := make([]byte, 1+len(key))
	buf[0] = byte(db)
	copy(buf[1:], key)
	return buf
}
