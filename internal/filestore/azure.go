package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
)

// AzureConfig configures the Azure Blob Storage backend.
type AzureConfig struct {
	// ConnectionString takes precedence over the account settings.
	ConnectionString string
	AccountName      string
	// AccountKey selects shared key auth; without it the default Azure
	// credential chain is used.
	AccountKey string
	Container  string
	// Endpoint overrides https://<account>.blob.core.windows.net/, e.g. for Azurite.
	Endpoint string
	Prefix   string
}

// Azure keeps blobs in an Azure Blob Storage container.
type Azure struct {
	container *container.Client
	prefix    string
}

// NewAzure creates an Azure backend from cfg.
func NewAzure(cfg AzureConfig) (*Azure, error) {
	if cfg.Container == "" {
		return nil, fmt.Errorf("%w: container is required", ErrInvalidConfig)
	}

	endpoint := cfg.Endpoint
	if endpoint == "" && cfg.AccountName != "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
	}

	var client *azblob.Client
	var err error
	switch {
	case cfg.ConnectionString != "":
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	case cfg.AccountName != "" && cfg.AccountKey != "":
		var cred *azblob.SharedKeyCredential
		if cred, err = azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey); err == nil {
			client, err = azblob.NewClientWithSharedKeyCredential(endpoint, cred, nil)
		}
	case cfg.AccountName != "":
		var cred *azidentity.DefaultAzureCredential
		if cred, err = azidentity.NewDefaultAzureCredential(nil); err == nil {
			client, err = azblob.NewClient(endpoint, cred, nil)
		}
	default:
		return nil, fmt.Errorf("%w: account name or connection string is required", ErrInvalidConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("filestore: create Azure client: %w", err)
	}

	return &Azure{
		container: client.ServiceClient().NewContainerClient(cfg.Container),
		prefix:    NormalizeKey(cfg.Prefix),
	}, nil
}

func (a *Azure) Backend() string { return "azure" }

func (a *Azure) fullKey(key string) (string, error) {
	key = NormalizeKey(key)
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	if a.prefix != "" {
		return a.prefix + "/" + key, nil
	}
	return key, nil
}

func (a *Azure) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	k, err := a.fullKey(key)
	if err != nil {
		return err
	}
	opts := &blockblob.UploadStreamOptions{}
	if contentType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: &contentType}
	}
	_, err = a.container.NewBlockBlobClient(k).UploadStream(ctx, r, opts)
	return translateAzureError(err)
}

func (a *Azure) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	k, err := a.fullKey(key)
	if err != nil {
		return nil, err
	}
	resp, err := a.container.NewBlobClient(k).DownloadStream(ctx, nil)
	if err != nil {
		return nil, translateAzureError(err)
	}
	return resp.Body, nil
}

func (a *Azure) Delete(ctx context.Context, key string) error {
	k, err := a.fullKey(key)
	if err != nil {
		return err
	}
	_, err = a.container.NewBlobClient(k).Delete(ctx, nil)
	return translateAzureError(err)
}

func translateAzureError(err error) error {
	if err == nil {
		return nil
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return ErrNotFound
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return fmt.Errorf("filestore: Azure error: %w", err)
}
