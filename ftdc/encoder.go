package ftdc

import (
	"bytes"
	"encoding/binary"

	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
)

// payloadEncoder writes deltas as varints, replacing each run of
// zeros with a zero followed by the run length minus one.
type payloadEncoder struct {
	zeroCount int64
	buf       *bytes.Buffer
}

func newPayloadEncoder() *payloadEncoder {
	return &payloadEncoder{buf: &bytes.Buffer{}}
}

func (e *payloadEncoder) Add(v int64) {
	if v == 0 {
		e.zeroCount++
		return
	}
	e.flushZeros()
	_, _ = e.buf.Write(encodeValue(v))
}

func (e *payloadEncoder) Resolve() []byte {
	e.flushZeros()
	return e.buf.Bytes()
}

func (e *payloadEncoder) flushZeros() {
	if e.zeroCount <= 0 {
		return
	}

	_, _ = e.buf.Write(encodeValue(0))
	_, _ = e.buf.Write(encodeValue(e.zeroCount - 1))
	e.zeroCount = 0
}

func encodeSizeValue(val uint32) []byte {
	tmp := make([]byte, 4)
	binary.LittleEndian.PutUint32(tmp, val)
	return tmp
}

func encodeValue(val int64) []byte {
	tmp := make([]byte, binary.MaxVarintLen64)
	num := binary.PutVarint(tmp, val)
	return tmp[:num]
}

// compressBuffer prefixes the zlib stream of input with its
// uncompressed length.
func compressBuffer(input []byte) ([]byte, error) {
	buf := bytes.NewBuffer(encodeSizeValue(uint32(len(input))))

	zbuf := zlib.NewWriter(buf)
	if _, err := zbuf.Write(input); err != nil {
		return nil, errors.Wrap(err, "problem compressing payload")
	}
	if err := zbuf.Close(); err != nil {
		return nil, errors.Wrap(err, "problem flushing zlib writer")
	}

	return buf.Bytes(), nil
}
