// v1
// internal/scylla/compressor.go
package scylla

import (
	"encoding/binary"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// lz4Compressor implements gocql.Compressor with the CQL native-protocol LZ4
// framing: the uncompressed length as a big-endian uint32 followed by one
// LZ4 block.
type lz4Compressor struct{}

func (lz4Compressor) Name() string { return "lz4" }

func (lz4Compressor) Encode(data []byte) ([]byte, error) {
	buf := make([]byte, 4+lz4.CompressBlockBound(len(data)))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	var compressor lz4.Compressor
	n, err := compressor.CompressBlock(data, buf[4:])
	if err != nil {
		return nil, err
	}
	return buf[:4+n], nil
}

func (lz4Compressor) Decode(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("lz4 frame too short: %d bytes", len(data))
	}
	uncompressedLen := binary.BigEndian.Uint32(data)
	if uncompressedLen == 0 {
		return nil, nil
	}
	buf := make([]byte, uncompressedLen)
	n, err := lz4.UncompressBlock(data[4:], buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}
