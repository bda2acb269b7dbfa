// Package decompress expands compressed archive payloads by file extension.
package decompress

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/jobrunner/spacefetch/internal/domain"
)

// Supported extensions.
const (
	ExtCompress = ".Z"
	ExtGzip     = ".gz"
)

// IsCompressed reports whether name carries a supported compression suffix.
func IsCompressed(name string) bool {
	return strings.HasSuffix(name, ExtCompress) || strings.HasSuffix(name, ExtGzip)
}

// Strip removes a supported compression suffix from name.
func Strip(name string) string {
	switch {
	case strings.HasSuffix(name, ExtCompress):
		return strings.TrimSuffix(name, ExtCompress)
	case strings.HasSuffix(name, ExtGzip):
		return strings.TrimSuffix(name, ExtGzip)
	}
	return name
}

// Bytes expands data according to the suffix of name.
// Uncompressed names are returned unchanged.
func Bytes(name string, data []byte) ([]byte, error) {
	switch {
	case strings.HasSuffix(name, ExtCompress):
		return UnLZW(data)
	case strings.HasSuffix(name, ExtGzip):
		return gunzip(data)
	}
	return data, nil
}

func gunzip(data []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, &domain.DecodeError{Format: "gzip", Offset: 0, Err: fmt.Errorf("%v: %w", err, domain.ErrBadCompression)}
	}
	defer gz.Close()

	out, err := io.ReadAll(gz)
	if err != nil {
		return nil, &domain.DecodeError{Format: "gzip", Offset: -1, Err: fmt.Errorf("%v: %w", err, domain.ErrBadCompression)}
	}
	return out, nil
}
