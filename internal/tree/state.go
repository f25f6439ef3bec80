package tree

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hupe1980/numindex/pagecache"
)

const (
	stateMagic   = "NUMIDX01"
	stateVersion = 1
	stateSize    = 74

	// Pages 0 and 1 hold state slots; data runs start after them.
	statePages = 2

	maxProbedPageSize = 1 << 20
)

// state is the content of a state slot.
type state struct {
	layoutID   uint64
	keySize    uint32
	valueSize  uint32
	generation uint64
	firstPage  int64
	pageCount  int64
	dataLen    int64
	entries    int64
	codec      Codec
	clean      bool
	pageSize   uint32
}

// slot returns the page the state of generation g lives in.
func slot(generation uint64) int64 { return int64(generation % statePages) }

// end returns the first page past the data run.
func (s state) end() int64 {
	if s.pageCount == 0 {
		return statePages
	}
	return s.firstPage + s.pageCount
}

func (s state) marshal() []byte {
	buf := make([]byte, stateSize)
	copy(buf, stateMagic)
	binary.LittleEndian.PutUint32(buf[8:], stateVersion)
	binary.LittleEndian.PutUint64(buf[12:], s.layoutID)
	binary.LittleEndian.PutUint32(buf[20:], s.keySize)
	binary.LittleEndian.PutUint32(buf[24:], s.valueSize)
	binary.LittleEndian.PutUint64(buf[28:], s.generation)
	binary.LittleEndian.PutUint64(buf[36:], uint64(s.firstPage))
	binary.LittleEndian.PutUint64(buf[44:], uint64(s.pageCount))
	binary.LittleEndian.PutUint64(buf[52:], uint64(s.dataLen))
	binary.LittleEndian.PutUint64(buf[60:], uint64(s.entries))
	buf[68] = byte(s.codec)
	if s.clean {
		buf[69] = 1
	}
	binary.LittleEndian.PutUint32(buf[70:], s.pageSize)
	return buf
}

func unmarshalState(buf []byte) (state, error) {
	if len(buf) < stateSize {
		return state{}, fmt.Errorf("%w: short state", ErrCorrupt)
	}
	if string(buf[:8]) != stateMagic {
		return state{}, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if v := binary.LittleEndian.Uint32(buf[8:]); v != stateVersion {
		return state{}, fmt.Errorf("%w: unsupported format version %d", ErrCorrupt, v)
	}
	s := state{
		layoutID:   binary.LittleEndian.Uint64(buf[12:]),
		keySize:    binary.LittleEndian.Uint32(buf[20:]),
		valueSize:  binary.LittleEndian.Uint32(buf[24:]),
		generation: binary.LittleEndian.Uint64(buf[28:]),
		firstPage:  int64(binary.LittleEndian.Uint64(buf[36:])),
		pageCount:  int64(binary.LittleEndian.Uint64(buf[44:])),
		dataLen:    int64(binary.LittleEndian.Uint64(buf[52:])),
		entries:    int64(binary.LittleEndian.Uint64(buf[60:])),
		codec:      Codec(buf[68]),
		clean:      buf[69] == 1,
		pageSize:   binary.LittleEndian.Uint32(buf[70:]),
	}
	if s.pageCount < 0 || s.dataLen < 0 || s.entries < 0 || (s.pageCount > 0 && s.firstPage < statePages) {
		return state{}, fmt.Errorf("%w: invalid data run", ErrCorrupt)
	}
	return s, nil
}

// probePageSize looks for a state slot written with another page size. Slot 0
// starts the file; slot 1 starts one page in, so power of two sizes are tried.
// Only the state header is checked, the page trailer is not.
func probePageSize(r io.ReaderAt) (uint32, bool) {
	buf := make([]byte, stateSize)
	offsets := []int64{0}
	for size := int64(pagecache.MinPageSize); size <= maxProbedPageSize; size <<= 1 {
		offsets = append(offsets, size)
	}
	for _, off := range offsets {
		if n, _ := r.ReadAt(buf, off); n < stateSize {
			continue
		}
		s, err := unmarshalState(buf)
		if err != nil || s.pageSize == 0 {
			continue
		}
		if off == 0 || int64(s.pageSize) == off {
			return s.pageSize, true
		}
	}
	return 0, false
}
