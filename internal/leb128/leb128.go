// Package leb128 implements the variable-length integer encoding used by the
// WebAssembly binary format.
//
// See https://www.w3.org/TR/wasm-core-1/#integers%E2%91%A4
package leb128

import (
	"errors"
	"fmt"
	"io"
)

var (
	errOverflow32 = errors.New("overflows a 32-bit integer")
	errOverflow33 = errors.New("overflows a 33-bit integer")
	errOverflow64 = errors.New("overflows a 64-bit integer")
)

// DecodeUint32 reads an unsigned 32-bit integer and returns it with the number of bytes consumed.
func DecodeUint32(r io.ByteReader) (ret uint32, num uint64, err error) {
	for shift := 0; shift < 35; shift += 7 {
		b, err := r.ReadByte()
		if err != nil {
			return 0, 0, fmt.Errorf("readByte failed: %w", err)
		}
		num++
		if shift == 28 && b&0x70 != 0 {
			return 0, 0, errOverflow32
		}
		ret |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return ret, num, nil
		}
	}
	return 0, 0, errOverflow32
}

// DecodeUint64 reads an unsigned 64-bit integer and returns it with the number of bytes consumed.
func DecodeUint64(r io.ByteReader) (ret uint64, num uint64, err error) {
	for shift := 0; shift < 70; shift += 7 {
		b, err := r.ReadByte()
		if err != nil {
			return 0, 0, fmt.Errorf("readByte failed: %w", err)
		}
		num++
		if shift == 63 && b&0x7e != 0 {
			return 0, 0, errOverflow64
		}
		ret |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return ret, num, nil
		}
	}
	return 0, 0, errOverflow64
}

// DecodeInt32 reads a signed 32-bit integer and returns it with the number of bytes consumed.
func DecodeInt32(r io.ByteReader) (ret int32, num uint64, err error) {
	v, num, err := decodeSigned(r, 32)
	if err != nil {
		if errors.Is(err, errOverflow64) {
			err = errOverflow32
		}
		return 0, 0, err
	}
	return int32(v), num, nil
}

// DecodeInt33AsInt64 reads the signed 33-bit integer used by block types.
func DecodeInt33AsInt64(r io.ByteReader) (ret int64, num uint64, err error) {
	ret, num, err = decodeSigned(r, 33)
	if errors.Is(err, errOverflow64) {
		err = errOverflow33
	}
	return
}

// DecodeInt64 reads a signed 64-bit integer and returns it with the number of bytes consumed.
func DecodeInt64(r io.ByteReader) (ret int64, num uint64, err error) {
	return decodeSigned(r, 64)
}

func decodeSigned(r io.ByteReader, bits int) (ret int64, num uint64, err error) {
	var shift int
	var b byte
	maxBytes := (bits + 6) / 7
	for {
		if int(num) == maxBytes {
			return 0, 0, errOverflow64
		}
		if b, err = r.ReadByte(); err != nil {
			return 0, 0, fmt.Errorf("readByte failed: %w", err)
		}
		num++
		ret |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 64 && b&0x40 != 0 {
		ret |= -1 << shift
	}
	if bits < 64 {
		// The value must survive a round trip through the target width.
		lo, hi := int64(-1)<<(bits-1), int64(1)<<(bits-1)-1
		if ret < lo || ret > hi {
			return 0, 0, errOverflow64
		}
	}
	return ret, num, nil
}

// EncodeUint32 encodes the value into unsigned LEB128.
func EncodeUint32(v uint32) []byte {
	return EncodeUint64(uint64(v))
}

// EncodeUint64 encodes the value into unsigned LEB128.
func EncodeUint64(v uint64) (buf []byte) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf = append(buf, b)
		if v == 0 {
			return
		}
	}
}

// EncodeInt32 encodes the value into signed LEB128.
func EncodeInt32(v int32) []byte {
	return EncodeInt64(int64(v))
}

// EncodeInt64 encodes the value into signed LEB128.
func EncodeInt64(v int64) (buf []byte) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(buf, b)
		}
		buf = append(buf, b|0x80)
	}
}
