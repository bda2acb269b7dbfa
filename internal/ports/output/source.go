// Package output defines the secondary/driven ports of the application.
package output

import (
	"context"
	"io"

	"github.com/jobrunner/spacefetch/internal/domain"
)

// RemoteSource defines the secondary port for a remote archive session.
type RemoteSource interface {
	// List returns the entries named by the locator's listing.
	List(ctx context.Context, loc domain.Locator) ([]domain.RemoteEntry, error)

	// Fetch streams one entry's bytes into w and returns the byte count.
	Fetch(ctx context.Context, entry domain.RemoteEntry, w io.Writer) (int64, error)

	// Exists checks whether an entry is present on the remote side.
	Exists(ctx context.Context, entry domain.RemoteEntry) (bool, error)

	// Close ends the session.
	Close() error
}

// SourceType represents the transport of a remote source.
type SourceType string

const (
	SourceTypeHTTP  SourceType = "http"
	SourceTypeFTP   SourceType = "ftp"
	SourceTypeS3    SourceType = "s3"
	SourceTypeAzure SourceType = "azure"
)
