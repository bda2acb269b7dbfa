package decompress

import (
	"bytes"
	"fmt"

	"github.com/jobrunner/spacefetch/internal/domain"
)

// Unix compress(1) stream layout.
const (
	lzwMagic0    = 0x1f
	lzwMagic1    = 0x9d
	lzwBlockMode = 0x80
	lzwBitsMask  = 0x1f
	lzwReserved  = 0x60
	lzwClear     = 256
	lzwMinBits   = 9
	lzwMaxBits   = 16
)

// UnLZW decodes a Unix compress (.Z) stream held in memory.
//
// compress writes codes in groups of eight; whenever the code width grows or
// the table is cleared, the remainder of the current group is padding and is
// skipped. Input that ends on a code boundary terminates the stream cleanly.
func UnLZW(in []byte) ([]byte, error) {
	if len(in) < 3 || in[0] != lzwMagic0 || in[1] != lzwMagic1 {
		return nil, lzwError(0, "missing compress header")
	}
	flags := in[2]
	if flags&lzwReserved != 0 {
		return nil, lzwError(2, "unknown flags 0x%02x", flags)
	}
	maxBits := uint(flags & lzwBitsMask)
	if maxBits < lzwMinBits || maxBits > lzwMaxBits {
		return nil, lzwError(2, "max code width %d out of range", maxBits)
	}
	if maxBits == lzwMinBits {
		// compress treats 9 as 10.
		maxBits = 10
	}
	block := flags&lzwBlockMode != 0

	pos := 3
	next := func() (byte, bool) {
		if pos >= len(in) {
			return 0, false
		}
		b := in[pos]
		pos++
		return b, true
	}

	var out bytes.Buffer
	first, ok := next()
	if !ok {
		return out.Bytes(), nil
	}
	second, ok := next()
	if !ok {
		return nil, lzwError(pos, "truncated first code")
	}
	if second&1 != 0 {
		return nil, lzwError(pos, "first code is not a literal")
	}
	out.Grow(len(in) * 3)
	out.WriteByte(first)

	var (
		prefix [1 << lzwMaxBits]uint16
		suffix [1 << lzwMaxBits]byte
		stack  = make([]byte, 0, 1<<lzwMaxBits)

		bits  = uint(lzwMinBits)
		mask  = uint32(1<<lzwMinBits - 1)
		end   = uint32(lzwClear - 1)
		buf   = uint32(second >> 1)
		left  = uint(7)
		mark  = 3
		prev  = uint32(first)
		final = first
	)
	if block {
		end = lzwClear
	}

	// flush skips to the next 8*bits boundary counted from mark.
	flush := func() bool {
		if rem := (pos - mark) % int(bits); rem != 0 {
			pos += int(bits) - rem
			if pos > len(in) {
				pos = len(in)
				return false
			}
		}
		buf, left, mark = 0, 0, pos
		return true
	}

	for {
		if end >= mask && bits < maxBits {
			if !flush() {
				break
			}
			bits++
			mask = mask<<1 | 1
		}

		b, ok := next()
		if !ok {
			break
		}
		buf |= uint32(b) << left
		left += 8
		if left < bits {
			b, ok = next()
			if !ok {
				return nil, lzwError(pos, "truncated code")
			}
			buf |= uint32(b) << left
			left += 8
		}
		code := buf & mask
		buf >>= bits
		left -= bits

		if code == lzwClear && block {
			if !flush() {
				break
			}
			bits = lzwMinBits
			mask = 1<<lzwMinBits - 1
			end = lzwClear - 1
			continue
		}

		current := code
		stack = stack[:0]
		if code > end {
			// Only the entry about to be created may be referenced early.
			if code != end+1 || prev > end {
				return nil, lzwError(pos, "invalid code %d (table end %d)", code, end)
			}
			stack = append(stack, final)
			code = prev
		}
		for code >= lzwClear {
			stack = append(stack, suffix[code])
			code = uint32(prefix[code])
		}
		stack = append(stack, byte(code))
		final = byte(code)

		if end < mask {
			end++
			prefix[end] = uint16(prev)
			suffix[end] = final
		}
		prev = current

		for i := len(stack) - 1; i >= 0; i-- {
			out.WriteByte(stack[i])
		}
	}
	return out.Bytes(), nil
}

func lzwError(offset int, format string, args ...any) error {
	return &domain.DecodeError{
		Format: "lzw",
		Offset: offset,
		Err:    fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), domain.ErrBadCompression),
	}
}
