package source

import (
	"context"
	"fmt"
	"io"
	"path"
	"regexp"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/jobrunner/spacefetch/internal/domain"
	"github.com/jobrunner/spacefetch/internal/ports/output"
)

var _ output.RemoteSource = (*AzureSource)(nil)

// AzureSource implements RemoteSource for an Azure Blob Storage container.
type AzureSource struct {
	client    *azblob.Client
	container string
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string
	AccountName      string
	AccountKey       string
	ConnectionString string
	ServiceURL       string // Anonymous access to a public container when set without a key
}

// NewAzureSource creates a new Azure Blob Storage source adapter.
func NewAzureSource(cfg AzureConfig) (*AzureSource, error) {
	var client *azblob.Client
	var err error

	switch {
	case cfg.ConnectionString != "":
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	case cfg.AccountKey != "":
		url := "https://" + cfg.AccountName + ".blob.core.windows.net/"
		cred, credErr := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if credErr != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrAuth, credErr)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(url, cred, nil)
	default:
		url := cfg.ServiceURL
		if url == "" {
			url = "https://" + cfg.AccountName + ".blob.core.windows.net/"
		}
		client, err = azblob.NewClientWithNoCredential(url, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: azure client: %v", domain.ErrConnection, err)
	}

	return &AzureSource{
		client:    client,
		container: cfg.Container,
	}, nil
}

// List returns the blobs below the locator prefix whose name matches the
// pattern.
func (s *AzureSource) List(ctx context.Context, loc domain.Locator) ([]domain.RemoteEntry, error) {
	re, err := regexp.Compile(loc.Pattern)
	if err != nil {
		return nil, &domain.FetchError{Operation: "list", Name: loc.ListPath, Err: fmt.Errorf("%w: pattern: %v", domain.ErrInvalidInput, err)}
	}

	prefix := loc.ListPath
	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})

	var entries []domain.RemoteEntry
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, &domain.FetchError{Operation: "list", Name: loc.ListPath, Err: classifyBlobErr(err)}
		}

		for _, blob := range page.Segment.BlobItems {
			if e, ok := blobEntry(blob, re); ok {
				entries = append(entries, e)
			}
		}
	}

	return entries, nil
}

// blobEntry converts a listed blob into an entry.
// Returns false if the blob name does not match.
func blobEntry(blob *container.BlobItem, re *regexp.Regexp) (domain.RemoteEntry, bool) {
	if blob.Name == nil || !re.MatchString(*blob.Name) {
		return domain.RemoteEntry{}, false
	}
	name := *blob.Name
	e := domain.NewRemoteEntry(path.Base(name), name)
	e.RawLine = name
	return e, true
}

// Fetch streams a blob into w.
func (s *AzureSource) Fetch(ctx context.Context, entry domain.RemoteEntry, w io.Writer) (int64, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, entry.Location, nil)
	if err != nil {
		return 0, &domain.FetchError{Operation: "fetch", Name: entry.Name, Err: classifyBlobErr(err)}
	}
	defer func() { _ = resp.Body.Close() }()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, &domain.FetchError{Operation: "fetch", Name: entry.Name, Err: fmt.Errorf("%w: %v", domain.ErrTransport, err)}
	}
	return n, nil
}

// Exists checks if a blob exists by reading its first byte.
func (s *AzureSource) Exists(ctx context.Context, entry domain.RemoteEntry) (bool, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, entry.Location, &azblob.DownloadStreamOptions{
		Range: azblob.HTTPRange{Offset: 0, Count: 1},
	})
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return false, nil
		}
		return false, &domain.FetchError{Operation: "exists", Name: entry.Name, Err: classifyBlobErr(err)}
	}
	_ = resp.Body.Close()
	return true, nil
}

// Close is a no-op.
func (s *AzureSource) Close() error {
	return nil
}

func classifyBlobErr(err error) error {
	switch {
	case bloberror.HasCode(err, bloberror.BlobNotFound):
		return fmt.Errorf("%w: %v", domain.ErrRemoteFileNotFound, err)
	case bloberror.HasCode(err, bloberror.ContainerNotFound, bloberror.ResourceNotFound):
		return fmt.Errorf("%w: %v", domain.ErrConnection, err)
	case bloberror.HasCode(err, bloberror.AuthenticationFailed, bloberror.AuthorizationFailure):
		return fmt.Errorf("%w: %v", domain.ErrAuth, err)
	}
	return classifyNetErr(err)
}
