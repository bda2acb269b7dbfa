package decompress

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/jobrunner/spacefetch/internal/domain"
)

// packCodes builds a .Z stream (block mode, 16 bit max) from 9-bit codes
// packed least significant bit first.
func packCodes(codes ...uint32) []byte {
	out := []byte{0x1f, 0x9d, 0x90}
	var buf uint32
	var left uint
	for _, c := range codes {
		buf |= c << left
		left += 9
		for left >= 8 {
			out = append(out, byte(buf))
			buf >>= 8
			left -= 8
		}
	}
	if left > 0 {
		out = append(out, byte(buf))
	}
	return out
}

func TestUnLZW(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{
			name: "single literal",
			in:   []byte{0x1f, 0x9d, 0x90, 0x61, 0x00},
			want: "a",
		},
		{
			name: "header only",
			in:   []byte{0x1f, 0x9d, 0x90},
			want: "",
		},
		{
			name: "two literals",
			in:   packCodes(97, 97),
			want: "aa",
		},
		{
			name: "table reference",
			in:   packCodes(97, 98, 257, 257),
			want: "ababab",
		},
		{
			name: "code defined by its own use",
			in:   packCodes(97, 257),
			want: "aaa",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := UnLZW(tt.in)
			if err != nil {
				t.Fatalf("UnLZW() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("UnLZW() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUnLZWPackHelper(t *testing.T) {
	want := []byte{0x1f, 0x9d, 0x90, 0x61, 0x00}
	if got := packCodes(97); !bytes.Equal(got, want) {
		t.Errorf("packCodes(97) = % x, want % x", got, want)
	}
}

// lzwWriter encodes like compress(1) in block mode: codes go out in groups
// of eight, and a group is padded to its full width whenever the width grows
// or the table is cleared.
type lzwWriter struct {
	out     []byte
	group   []uint32
	bits    uint
	maxBits uint
	maxCode uint32
	free    uint32
	clear   bool

	clears int
	widest uint
}

func (w *lzwWriter) writeGroup(pad bool) {
	var buf uint64
	var left uint
	start := len(w.out)
	for _, c := range w.group {
		buf |= uint64(c) << left
		left += w.bits
		for left >= 8 {
			w.out = append(w.out, byte(buf))
			buf >>= 8
			left -= 8
		}
	}
	if left > 0 {
		w.out = append(w.out, byte(buf))
	}
	for pad && len(w.out)-start < int(w.bits) {
		w.out = append(w.out, 0)
	}
	w.group = w.group[:0]
}

func (w *lzwWriter) output(code uint32) {
	w.group = append(w.group, code)
	if len(w.group) == 8 {
		w.writeGroup(true)
	}
	if w.free > w.maxCode || w.clear {
		if len(w.group) > 0 {
			w.writeGroup(true)
		}
		if w.clear {
			w.bits, w.maxCode, w.clear = 9, 1<<9-1, false
			return
		}
		w.bits++
		w.maxCode = 1<<w.bits - 1
		if w.bits == w.maxBits {
			w.maxCode = 1 << w.maxBits
		}
		w.widest = max(w.widest, w.bits)
	}
}

// compressLZW clears the table as soon as it is full.
func compressLZW(data []byte, maxBits uint) *lzwWriter {
	w := &lzwWriter{
		out:     []byte{0x1f, 0x9d, 0x80 | byte(maxBits)},
		bits:    9,
		maxBits: maxBits,
		maxCode: 1<<9 - 1,
		free:    257,
		widest:  9,
	}
	if len(data) == 0 {
		return w
	}
	type pair struct {
		prefix uint32
		c      byte
	}
	table := make(map[pair]uint32)
	ent := uint32(data[0])
	for _, c := range data[1:] {
		k := pair{ent, c}
		if code, ok := table[k]; ok {
			ent = code
			continue
		}
		w.output(ent)
		ent = uint32(c)
		if w.free < 1<<maxBits {
			table[k] = w.free
			w.free++
			continue
		}
		clear(table)
		w.free = 257
		w.clear = true
		w.clears++
		w.output(lzwClear)
	}
	w.output(ent)
	w.writeGroup(false)
	return w
}

// lzwSample mixes repeated words with noise so the table fills steadily.
func lzwSample(n int, seed uint64) []byte {
	r := rand.New(rand.NewPCG(seed, seed))
	words := [][]byte{[]byte("uqrg"), []byte("9999"), []byte("tec")}
	out := make([]byte, 0, n+8)
	for len(out) < n {
		if r.IntN(4) == 0 {
			out = append(out, words[r.IntN(len(words))]...)
		} else {
			out = append(out, byte(r.IntN(256)))
		}
	}
	return out[:n]
}

func TestUnLZWWidthGrowthAndClear(t *testing.T) {
	tests := []struct {
		name    string
		maxBits uint
		size    int
	}{
		{"12 bit", 12, 60000},
		{"16 bit", 16, 400000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := lzwSample(tt.size, uint64(tt.maxBits))
			w := compressLZW(data, tt.maxBits)
			if w.widest != tt.maxBits || w.clears == 0 {
				t.Fatalf("encoder reached %d bits with %d clears; fixture too small", w.widest, w.clears)
			}

			got, err := UnLZW(w.out)
			if err != nil {
				t.Fatalf("UnLZW() error = %v", err)
			}
			if !bytes.Equal(got, data) {
				n := 0
				for n < len(got) && n < len(data) && got[n] == data[n] {
					n++
				}
				t.Errorf("UnLZW() differs at byte %d (got %d bytes, want %d)", n, len(got), len(data))
			}
		})
	}
}

func TestUnLZWGrowthOnly(t *testing.T) {
	// Enough codes to pass 9 and 10 bits without filling a 16 bit table.
	data := lzwSample(20000, 5)
	w := compressLZW(data, 16)
	if w.clears != 0 || w.widest < 11 {
		t.Fatalf("encoder reached %d bits with %d clears", w.widest, w.clears)
	}
	got, err := UnLZW(w.out)
	if err != nil {
		t.Fatalf("UnLZW() error = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("UnLZW() returned %d bytes, want %d", len(got), len(data))
	}
}

func TestUnLZWErrors(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
	}{
		{"no magic", []byte("plain text")},
		{"too short", []byte{0x1f}},
		{"reserved flags", []byte{0x1f, 0x9d, 0xf0, 0x61, 0x00}},
		{"width out of range", []byte{0x1f, 0x9d, 0x88, 0x61, 0x00}},
		{"first code not literal", []byte{0x1f, 0x9d, 0x90, 0x61, 0x01}},
		{"undefined code", packCodes(97, 300)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnLZW(tt.in)
			if !errors.Is(err, domain.ErrBadCompression) {
				t.Errorf("UnLZW() error = %v, want ErrBadCompression", err)
			}
			if !errors.Is(err, domain.ErrDecode) {
				t.Errorf("UnLZW() error = %v, want ErrDecode", err)
			}
		})
	}
}

func TestBytes(t *testing.T) {
	var gz bytes.Buffer
	w := gzip.NewWriter(&gz)
	if _, err := w.Write([]byte("ionex body")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		file string
		data []byte
		want string
	}{
		{"compress", "uqrg0010.22i.Z", packCodes(97, 98, 257, 257), "ababab"},
		{"gzip", "uqrg0010.22i.gz", gz.Bytes(), "ionex body"},
		{"plain", "uqrg0010.22i", []byte("as is"), "as is"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Bytes(tt.file, tt.data)
			if err != nil {
				t.Fatalf("Bytes() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Bytes() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBytesCorruptGzip(t *testing.T) {
	_, err := Bytes("x.gz", []byte("not gzip"))
	if !errors.Is(err, domain.ErrDecode) {
		t.Errorf("Bytes() error = %v, want ErrDecode", err)
	}
}

func TestStrip(t *testing.T) {
	tests := map[string]string{
		"uqrg0010.22i.Z":  "uqrg0010.22i",
		"uqrg0010.22i.gz": "uqrg0010.22i",
		"2022Q1_DSD.txt":  "2022Q1_DSD.txt",
	}
	for in, want := range tests {
		if got := Strip(in); got != want {
			t.Errorf("Strip(%q) = %q, want %q", in, got, want)
		}
		if IsCompressed(in) != (in != want) {
			t.Errorf("IsCompressed(%q) = %v", in, IsCompressed(in))
		}
	}
}
