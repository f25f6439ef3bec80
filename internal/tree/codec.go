package tree

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// Codec selects how checkpoint blocks are compressed.
type Codec uint8

const (
	// CodecNone stores blocks raw.
	CodecNone Codec = 0
	// CodecLZ4 compresses blocks with LZ4 when it saves space.
	CodecLZ4 Codec = 1
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

const (
	// blockEntries caps the entries encoded per block.
	blockEntries    = 4096
	blockHeaderSize = 9
)

// appendBlock appends raw as one block to dst: [rawLen][encLen][codec][bytes].
func appendBlock(dst, raw []byte, codec Codec) ([]byte, error) {
	payload, used := raw, CodecNone
	if codec == CodecLZ4 && len(raw) > 0 {
		compressed := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, compressed, nil)
		if err != nil {
			return nil, err
		}
		// n == 0 means incompressible.
		if n > 0 && n < len(raw) {
			payload, used = compressed[:n], CodecLZ4
		}
	}

	var hdr [blockHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], uint32(len(raw)))
	binary.LittleEndian.PutUint32(hdr[4:], uint32(len(payload)))
	hdr[8] = byte(used)
	dst = append(dst, hdr[:]...)
	return append(dst, payload...), nil
}

// nextBlock decodes the block at the head of src and returns its raw bytes
// and the remainder of src.
func nextBlock(src []byte) (raw, rest []byte, err error) {
	if len(src) < blockHeaderSize {
		return nil, nil, errors.New("truncated block header")
	}
	rawLen := binary.LittleEndian.Uint32(src[0:])
	encLen := binary.LittleEndian.Uint32(src[4:])
	codec := Codec(src[8])
	src = src[blockHeaderSize:]
	if uint64(len(src)) < uint64(encLen) {
		return nil, nil, errors.New("truncated block")
	}
	enc, rest := src[:encLen], src[encLen:]

	switch codec {
	case CodecNone:
		if encLen != rawLen {
			return nil, nil, errors.New("raw block size mismatch")
		}
		return enc, rest, nil
	case CodecLZ4:
		raw = make([]byte, rawLen)
		n, err := lz4.UncompressBlock(enc, raw)
		if err != nil {
			return nil, nil, err
		}
		if uint32(n) != rawLen {
			return nil, nil, errors.New("decompressed size mismatch")
		}
		return raw, rest, nil
	default:
		return nil, nil, fmt.Errorf("unknown block codec %d", codec)
	}
}
