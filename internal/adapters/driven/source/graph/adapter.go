package graph

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ragsync/engine/internal/core/domain"
	"github.com/ragsync/engine/internal/core/ports/driven"
)

var _ driven.SourceAdapter = (*Adapter)(nil)

// ClientConfig holds the Microsoft Graph authentication and connection
// settings shared by sharepoint, enterprise_sharepoint and onedrive source
// types (spec §6: tenant_id/client_id/client_secret).
type ClientConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	BaseURL      string

	// RequestsPerSecond bounds outbound call rate; 0 selects a
	// conservative default suitable for Graph's default service tier.
	RequestsPerSecond float64
}

func (c ClientConfig) requestsPerSecond() float64 {
	if c.RequestsPerSecond <= 0 {
		return 10
	}
	return c.RequestsPerSecond
}

// Config holds the recognized source-config keys for Graph-backed sources
// (spec §6).
type Config struct {
	ClientConfig

	// SourceType is one of "sharepoint", "enterprise_sharepoint", "onedrive".
	SourceType string

	// DriveID identifies the drive to sync — the SharePoint document
	// library drive id, or the OneDrive user's default drive id. Also
	// doubles as the delta-token drive_id key (spec §4.7).
	DriveID string

	// RootFolder / Path scope listing to a subtree; empty means the drive
	// root. SharePoint uses Path, OneDrive uses RootFolder — both map to
	// the same underlying rootPath field.
	RootFolder string
	Path       string

	Recursive bool
}

func (c Config) rootPath() string {
	if c.RootFolder != "" {
		return c.RootFolder
	}
	return c.Path
}

// Adapter is a Source Adapter backed by the Microsoft Graph API's
// drive-item and delta endpoints.
type Adapter struct {
	cfg Config
	c   *client
}

// New creates a Graph-backed Adapter.
func New(cfg Config) *Adapter {
	return &Adapter{cfg: cfg, c: newClient(cfg.ClientConfig)}
}

// newWithHTTPClient builds an Adapter around an already-authenticated
// http.Client, bypassing the OAuth2 exchange — used by tests to point at
// an httptest.Server.
func newWithHTTPClient(cfg Config, httpClient *http.Client) *Adapter {
	return &Adapter{cfg: cfg, c: newClientFrom(cfg.ClientConfig, httpClient)}
}

func (a *Adapter) Type() string { return a.cfg.SourceType }

// Validate issues a lightweight call against the configured drive's root.
func (a *Adapter) Validate(ctx context.Context) error {
	resp, err := a.c.get(ctx, fmt.Sprintf("/drives/%s/root", a.cfg.DriveID))
	if err != nil {
		return mapGraphErr(err)
	}
	resp.Body.Close()
	return nil
}

func (a *Adapter) SupportsDelta() bool { return true }

// List performs a full listing by driving the delta endpoint from an empty
// token and discarding the resulting token — Graph's delta endpoint
// returns the complete current tree on an empty-token call, same as a
// dedicated children-listing walk would, but with one fewer code path to
// maintain.
func (a *Adapter) List(ctx context.Context) (domain.ListResult, error) {
	result, err := a.collectDelta(ctx, "")
	if err != nil {
		return domain.ListResult{}, err
	}
	result.NextToken = ""
	result.TokenInvalid = false
	return result, nil
}

// DeltaList resumes from token (a deltaLink/nextLink previously returned).
// A 410 Gone response means the token expired server-side; the caller must
// clear it and fall back to List (spec §4.7, §7).
func (a *Adapter) DeltaList(ctx context.Context, token string) (domain.ListResult, error) {
	result, err := a.collectDelta(ctx, token)
	if err != nil {
		if errors.Is(err, errGone) {
			return domain.ListResult{TokenInvalid: true}, nil
		}
		return domain.ListResult{}, mapGraphErr(err)
	}
	return result, nil
}

// collectDelta follows nextLink pages until a deltaLink closes the page
// sequence, accumulating file descriptors and skipping folders/packages.
func (a *Adapter) collectDelta(ctx context.Context, token string) (domain.ListResult, error) {
	path, err := a.deltaPath(token)
	if err != nil {
		return domain.ListResult{}, err
	}

	var items []domain.SourceDescriptor
	for {
		resp, err := a.c.get(ctx, path)
		if err != nil {
			return domain.ListResult{}, err
		}
		var page deltaResponse
		if decErr := decodeJSON(resp, &page); decErr != nil {
			return domain.ListResult{}, fmt.Errorf("%w: decoding delta response: %v", domain.ErrSourceUnavailable, decErr)
		}

		for _, raw := range page.Value {
			if desc, ok := raw.toDescriptor(a.cfg); ok {
				items = append(items, desc)
			}
		}

		if page.NextLink != "" {
			path = page.NextLink
			continue
		}
		return domain.ListResult{Items: items, NextToken: page.DeltaLink}, nil
	}
}

func (a *Adapter) deltaPath(token string) (string, error) {
	if token != "" {
		if strings.HasPrefix(token, "http") {
			return token, nil
		}
		return "", fmt.Errorf("%w: malformed delta token", domain.ErrTokenInvalid)
	}

	base := fmt.Sprintf("/drives/%s/root/delta", a.cfg.DriveID)
	if root := a.cfg.rootPath(); root != "" {
		base = fmt.Sprintf("/drives/%s/root:/%s:/delta", a.cfg.DriveID, url.PathEscape(root))
	}
	return base, nil
}

// Fetch downloads a file's content by its drive-relative path.
func (a *Adapter) Fetch(ctx context.Context, originalURI string) (driven.FetchResult, error) {
	itemPath := fmt.Sprintf("/drives/%s/root:/%s:/content", a.cfg.DriveID, url.PathEscape(originalURI))
	resp, err := a.c.get(ctx, itemPath)
	if err != nil {
		return driven.FetchResult{}, mapGraphErr(err)
	}

	size := resp.ContentLength
	contentType := resp.Header.Get("Content-Type")
	var modTime *time.Time
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, parseErr := http.ParseTime(lm); parseErr == nil {
			modTime = &t
		}
	}

	return driven.FetchResult{
		Content:          resp.Body,
		Size:             size,
		ContentType:      contentType,
		SourceModifiedAt: modTime,
	}, nil
}

func (a *Adapter) Close() error { return nil }

// deltaResponse mirrors the Graph API's delta endpoint page shape.
type deltaResponse struct {
	Value     []driveItemResponse `json:"value"`
	NextLink  string              `json:"@odata.nextLink"`
	DeltaLink string              `json:"@odata.deltaLink"`
}

// driveItemResponse mirrors the subset of a Graph driveItem resource the
// engine needs to build a domain.SourceDescriptor.
type driveItemResponse struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	ParentReference      *parentRef `json:"parentReference"`
	Size                 int64      `json:"size"`
	File                 *fileFacet `json:"file"`
	Folder               *struct{}  `json:"folder"`
	Package              *struct{}  `json:"package"`
	Deleted              *struct{}  `json:"deleted"`
	LastModifiedDateTime *time.Time `json:"lastModifiedDateTime"`
	CreatedDateTime      *time.Time `json:"createdDateTime"`
}

type parentRef struct {
	Path string `json:"path"`
}

type fileFacet struct {
	MimeType string `json:"mimeType"`
}

// toDescriptor converts one Graph driveItem to a domain.SourceDescriptor,
// or reports ok=false for entries the engine never surfaces (folders,
// OneNote packages).
func (r driveItemResponse) toDescriptor(cfg Config) (domain.SourceDescriptor, bool) {
	if r.Deleted != nil {
		return domain.SourceDescriptor{
			OriginalURI: r.relativePath(),
			Tombstone:   true,
		}, true
	}
	if r.Folder != nil || r.Package != nil || r.File == nil {
		return domain.SourceDescriptor{}, false
	}

	contentType := r.File.MimeType
	return domain.SourceDescriptor{
		OriginalURI:      r.relativePath(),
		Size:             r.Size,
		ContentType:      contentType,
		SourceCreatedAt:  r.CreatedDateTime,
		SourceModifiedAt: r.LastModifiedDateTime,
	}, true
}

// relativePath derives the drive-root-relative path used as the
// engine-wide original_uri, from the item's parent path plus its name.
func (r driveItemResponse) relativePath() string {
	parent := ""
	if r.ParentReference != nil {
		parent = r.ParentReference.Path
	}
	const rootMarker = "/root:"
	if idx := strings.Index(parent, rootMarker); idx >= 0 {
		parent = strings.TrimPrefix(parent[idx+len(rootMarker):], "/")
	}
	if parent == "" {
		return r.Name
	}
	return parent + "/" + r.Name
}
