package revwire

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/exp/constraints"
)

// Order is the wire byte order. The repository protocol is big-endian.
var Order = binary.BigEndian

// BUFFER_SIZE is the default bufio size of Reader and Writer.
const BUFFER_SIZE = 4096

// CheckBufferNotZeros verifies that every byte of a trailing slice is zero.
func CheckBufferNotZeros(data []byte) error {
	for i, b := range data {
		if b != 0 {
			return fmt.Errorf("%w: found non-zero byte 0x%02x at offset %d", ErrTrailingData, b, i)
		}
	}
	return nil
}

// CheckLength validates a decoded length or count prefix against limit.
func CheckLength[T constraints.Signed](n T, limit T) error {
	if n < 0 || n > limit {
		return fmt.Errorf("%w: %d (limit %d)", ErrBadLength, n, limit)
	}
	return nil
}
