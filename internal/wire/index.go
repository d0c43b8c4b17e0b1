package wire

import "encoding/binary"

// NdxDone is the sentinel returned by IndexReader.Read and accepted by
// IndexWriter.Write to mean "end of generator list" (wire byte 0x00). It
// is chosen well outside the range of any real index (which are always
// >= 0) so it can never be confused with one.
const NdxDone int32 = -1

const (
	ndxShortPrefix = 0xFF
	ndxLongPrefix  = 0xFE
)

// IndexReader decodes rsync's variable-length signed index encoding: a
// leading byte of 0 means NDX_DONE; 0xFF introduces a 2-byte absolute
// short form; 0xFE introduces a 4-byte absolute long form; any other byte
// (1..0xFD) is a positive delta applied to the previously-decoded index.
// A reader is restartable: if the buffer does not yet hold a complete
// encoding, Read leaves its internal state untouched and reports
// "need more data", so the caller can feed more bytes and retry from the
// same position.
type IndexReader struct {
	prev int32
}

// NewIndexReader returns a reader whose "previous index" baseline matches
// IndexWriter's: one below the first real (non-done) index that can ever
// be sent, so the first delta-encoded index is unambiguous.
func NewIndexReader() *IndexReader {
	return &IndexReader{prev: -1}
}

// Read attempts to decode one index from the front of buf. ok is false
// ("need more data") if buf does not yet contain a complete encoding;
// Read consumes nothing and updates no state in that case. On success,
// consumed is the number of bytes the encoding occupied.
func (r *IndexReader) Read(buf []byte) (idx int32, consumed int, ok bool, err error) {
	if len(buf) < 1 {
		return 0, 0, false, nil
	}
	b := buf[0]
	switch {
	case b == 0:
		return NdxDone, 1, true, nil

	case b == ndxShortPrefix:
		if len(buf) < 3 {
			return 0, 0, false, nil
		}
		v := int32(binary.LittleEndian.Uint16(buf[1:3]))
		r.prev = v
		return v, 3, true, nil

	case b == ndxLongPrefix:
		if len(buf) < 5 {
			return 0, 0, false, nil
		}
		v := int32(binary.LittleEndian.Uint32(buf[1:5]))
		if v < 0 {
			return 0, 0, false, ErrIndexProtocol
		}
		r.prev = v
		return v, 5, true, nil

	default: // 1..0xFD: positive delta off the previous index
		v := r.prev + int32(b)
		if v < 0 {
			return 0, 0, false, ErrIndexProtocol
		}
		r.prev = v
		return v, 1, true, nil
	}
}

// IndexWriter encodes indexes using the inverse of IndexReader's scheme:
// a single delta byte when the index is within 1..0xFD of the previously
// written index, the 2-byte absolute short form when the index fits in 16
// bits, and the 4-byte absolute long form otherwise. NDX_DONE always
// encodes as the single byte 0, independent of and without updating the
// delta baseline.
type IndexWriter struct {
	prev int32
}

// NewIndexWriter returns a writer matching NewIndexReader's initial state.
func NewIndexWriter() *IndexWriter {
	return &IndexWriter{prev: -1}
}

// Write appends the wire encoding of idx to buf and returns the result.
func (w *IndexWriter) Write(buf []byte, idx int32) []byte {
	if idx == NdxDone {
		return append(buf, 0)
	}
	delta := idx - w.prev
	switch {
	case delta >= 1 && delta <= 0xFD:
		w.prev = idx
		return append(buf, byte(delta))
	case idx >= 0 && idx <= 0xFFFF:
		w.prev = idx
		buf = append(buf, ndxShortPrefix)
		var tmp [2]byte
		binary.LittleEndian.PutUint16(tmp[:], uint16(idx))
		return append(buf, tmp[:]...)
	default:
		w.prev = idx
		buf = append(buf, ndxLongPrefix)
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], uint32(idx))
		return append(buf, tmp[:]...)
	}
}
