// Package azureblob implements the azure_blob RAG backend: each artifact
// becomes a block blob in a configured container, with RAGObjectMeta
// stored as blob metadata headers (spec §6).
package azureblob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/ragsync/engine/internal/core/domain"
	"github.com/ragsync/engine/internal/core/ports/driven"
)

var _ driven.RAGAdapter = (*Adapter)(nil)

// AuthMethod selects how the adapter authenticates against the storage
// account (spec §6: auth_method).
type AuthMethod string

const (
	AuthServicePrincipal  AuthMethod = "service_principal"
	AuthConnectionString  AuthMethod = "connection_string"
	AuthManagedIdentity   AuthMethod = "managed_identity"
	AuthDefaultCredential AuthMethod = "default_credential"
)

// Config holds the azure_blob RAG-config keys recognized by the engine
// (spec §6).
type Config struct {
	ContainerName      string
	StorageAccountName string
	AuthMethod         AuthMethod

	// Service-principal sub-blob.
	TenantID     string
	ClientID     string
	ClientSecret string

	// Connection-string sub-blob.
	ConnectionString string

	// Managed-identity sub-blob; empty selects the system-assigned identity.
	ManagedIdentityClientID string
}

func (c Config) serviceURL() string {
	return fmt.Sprintf("https://%s.blob.core.windows.net", c.StorageAccountName)
}

// Adapter is a RAG backend backed by an Azure Blob Storage container.
type Adapter struct {
	cfg       Config
	container *container.Client
}

// New builds an Adapter from cfg, resolving credentials per AuthMethod.
func New(cfg Config) (*Adapter, error) {
	cntClient, err := buildContainerClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAdapterUnavailable, err)
	}
	return &Adapter{cfg: cfg, container: cntClient}, nil
}

func buildContainerClient(cfg Config) (*container.Client, error) {
	containerURL := cfg.serviceURL() + "/" + cfg.ContainerName

	if cfg.AuthMethod == AuthConnectionString {
		return container.NewClientFromConnectionString(cfg.ConnectionString, cfg.ContainerName, nil)
	}

	cred, err := buildCredential(cfg)
	if err != nil {
		return nil, err
	}
	return container.NewClient(containerURL, cred, nil)
}

func buildCredential(cfg Config) (azcore.TokenCredential, error) {
	switch cfg.AuthMethod {
	case AuthServicePrincipal:
		return azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, nil)
	case AuthManagedIdentity:
		opts := &azidentity.ManagedIdentityCredentialOptions{}
		if cfg.ManagedIdentityClientID != "" {
			opts.ID = azidentity.ClientID(cfg.ManagedIdentityClientID)
		}
		return azidentity.NewManagedIdentityCredential(opts)
	case AuthDefaultCredential, "":
		return azidentity.NewDefaultAzureCredential(nil)
	default:
		return nil, fmt.Errorf("unrecognized auth_method %q", cfg.AuthMethod)
	}
}

func (a *Adapter) Type() string { return "azure_blob" }

// Validate checks the container exists and is reachable.
func (a *Adapter) Validate(ctx context.Context) error {
	if _, err := a.container.GetProperties(ctx, nil); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrAdapterUnavailable, err)
	}
	return nil
}

func (a *Adapter) Upload(ctx context.Context, stableID string, content io.Reader, meta driven.RAGObjectMeta) (string, error) {
	blob := a.container.NewBlockBlobClient(stableID)
	_, err := blob.UploadStream(ctx, content, &blockblob.UploadStreamOptions{
		Metadata: toBlobMetadata(meta),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrAdapterUnavailable, err)
	}
	return stableID, nil
}

func (a *Adapter) Update(ctx context.Context, ragURI string, content io.Reader, meta driven.RAGObjectMeta) error {
	blob := a.container.NewBlockBlobClient(ragURI)
	if _, err := blob.GetProperties(ctx, nil); err != nil {
		if isNotFound(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("%w: %v", domain.ErrAdapterUnavailable, err)
	}

	if _, err := blob.UploadStream(ctx, content, &blockblob.UploadStreamOptions{
		Metadata: toBlobMetadata(meta),
	}); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrAdapterUnavailable, err)
	}
	return nil
}

func (a *Adapter) Delete(ctx context.Context, ragURI string) error {
	blob := a.container.NewBlobClient(ragURI)
	_, err := blob.Delete(ctx, nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("%w: %v", domain.ErrAdapterUnavailable, err)
	}
	return nil
}

func (a *Adapter) List(ctx context.Context, prefix string) ([]driven.RAGObjectInfo, error) {
	var out []driven.RAGObjectInfo

	pager := a.container.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{
		Prefix: &prefix,
		Include: container.ListBlobsInclude{Metadata: true},
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrAdapterUnavailable, err)
		}
		for _, item := range page.Segment.BlobItems {
			var size int64
			if item.Properties != nil && item.Properties.ContentLength != nil {
				size = *item.Properties.ContentLength
			}
			out = append(out, driven.RAGObjectInfo{
				RAGURI: *item.Name,
				Size:   size,
				Meta:   fromBlobMetadata(item.Metadata),
			})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].RAGURI < out[j].RAGURI })
	return out, nil
}

func (a *Adapter) Get(ctx context.Context, ragURI string) (driven.RAGObjectMeta, error) {
	blob := a.container.NewBlobClient(ragURI)
	props, err := blob.GetProperties(ctx, nil)
	if err != nil {
		if isNotFound(err) {
			return driven.RAGObjectMeta{}, domain.ErrNotFound
		}
		return driven.RAGObjectMeta{}, fmt.Errorf("%w: %v", domain.ErrAdapterUnavailable, err)
	}
	return fromBlobMetadata(props.Metadata), nil
}

func (a *Adapter) Close() error { return nil }

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.ErrorCode == string(bloberror.BlobNotFound) || respErr.StatusCode == 404
	}
	return false
}

const metaPrefix = "ragsync_"

func toBlobMetadata(meta driven.RAGObjectMeta) map[string]*string {
	out := map[string]*string{
		metaPrefix + "original_uri": ptr(meta.OriginalURI),
		metaPrefix + "content_type": ptr(meta.ContentType),
		metaPrefix + "kb_name":      ptr(meta.KBName),
		metaPrefix + "source_id":    ptr(meta.SourceID),
	}
	for k, v := range meta.Extra {
		out[metaPrefix+"extra_"+k] = ptr(v)
	}
	return out
}

func fromBlobMetadata(m map[string]*string) driven.RAGObjectMeta {
	meta := driven.RAGObjectMeta{Extra: map[string]string{}}
	for k, v := range m {
		if v == nil {
			continue
		}
		switch {
		case k == metaPrefix+"original_uri":
			meta.OriginalURI = *v
		case k == metaPrefix+"content_type":
			meta.ContentType = *v
		case k == metaPrefix+"kb_name":
			meta.KBName = *v
		case k == metaPrefix+"source_id":
			meta.SourceID = *v
		case strings.HasPrefix(k, metaPrefix+"extra_"):
			meta.Extra[strings.TrimPrefix(k, metaPrefix+"extra_")] = *v
		}
	}
	return meta
}

func ptr(s string) *string { return &s }
