package wire

import "encoding/binary"

// Delineated scans buf for the first occurrence of delim within sizeCap
// bytes. If found, it returns the prefix (decoded as UTF-8, not including
// the delimiter), the number of bytes consumed (including the delimiter),
// and ok=true. If delim does not appear and len(buf) is still below
// sizeCap, it returns ok=false and a nil error: the caller should wait for
// more bytes and call again with a longer buf. If delim does not appear
// and len(buf) has reached sizeCap, it returns ErrFramingOverflow.
//
// Delineated never mutates buf and never consumes bytes on a "need more
// data" or error return, matching the peek/commit discipline the codec
// relies on to stay restartable (see rsyncd design notes on implicit
// buffer marks).
func Delineated(buf []byte, sizeCap int, delim byte) (token string, consumed int, ok bool, err error) {
	for i, b := range buf {
		if i >= sizeCap {
			break
		}
		if b == delim {
			return string(buf[:i]), i + 1, true, nil
		}
	}
	if len(buf) >= sizeCap {
		return "", 0, false, ErrFramingOverflow
	}
	return "", 0, false, nil
}

// ReadLEUint32 reads four little-endian bytes from the front of buf. The
// rsync wire is little-endian throughout, while Go's net package and most
// binary.BigEndian-oriented code default the other way, so every multi-
// byte field on this wire goes through this helper (or WriteLEUint32)
// rather than through an assumed host/network order.
func ReadLEUint32(buf []byte) (v uint32, ok bool) {
	if len(buf) < 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(buf[:4]), true
}

// WriteLEUint32 appends v to buf as four little-endian bytes.
func WriteLEUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}
