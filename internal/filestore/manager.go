package filestore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/suppcompanion/internal/model"
	"github.com/pavelanni/suppcompanion/internal/wserr"
)

// File area names.
const (
	ComponentUser     = "user"
	AreaDraft         = "draft"
	ComponentResource = "mod_resource"
	AreaContent       = "content"
)

// Repository records files and their areas.
type Repository interface {
	UnusedDraftItemID(ctx context.Context, userID int64) (int64, error)
	InsertFile(ctx context.Context, f *model.StoredFile) (int64, error)
	AreaFiles(ctx context.Context, ref model.ContextRef, component, area string, itemID int64) ([]model.StoredFile, error)
	MoveFile(ctx context.Context, id int64, ref model.ContextRef, component, area string, itemID int64) error
	DeleteFile(ctx context.Context, id int64) error
	RenameModule(ctx context.Context, id int64, name string) error
	OnRollback(ctx context.Context, f func())
}

// Draft is a file staged in a user's draft area.
type Draft struct {
	UserID int64
	ItemID int64
	File   model.StoredFile
}

// Options tune a Manager. Zero values pick defaults.
type Options struct {
	HTTPClient *http.Client
	Now        func() time.Time
}

// Manager stages remote files as drafts and attaches them to modules.
type Manager struct {
	repo   Repository
	blobs  Blob
	client *http.Client
	now    func() time.Time
}

// NewManager returns a Manager storing content in blobs.
func NewManager(repo Repository, blobs Blob, opts Options) *Manager {
	m := &Manager{repo: repo, blobs: blobs, client: opts.HTTPClient, now: opts.Now}
	if m.client == nil {
		m.client = &http.Client{Timeout: 60 * time.Second}
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// StageFromURL downloads rawURL into a fresh draft area of the user. The
// file is named after the current unix time with a .pdf extension. A
// positive maxBytes caps the download size. When called inside a store
// transaction the blob is removed again if that transaction rolls back.
func (m *Manager) StageFromURL(ctx context.Context, userID int64, rawURL string, maxBytes int64) (*Draft, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, wserr.Host(wserr.CodeFileDownloadFailed, fmt.Errorf("unsupported url %q", rawURL))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, wserr.Host(wserr.CodeFileDownloadFailed, err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, wserr.Host(wserr.CodeFileDownloadFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, wserr.Host(wserr.CodeFileDownloadFailed, fmt.Errorf("GET %s: %s", u.Redacted(), resp.Status))
	}
	if maxBytes > 0 && resp.ContentLength > maxBytes {
		return nil, tooLarge(maxBytes)
	}

	contentType := "application/pdf"
	if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil && mt != "application/octet-stream" {
		contentType = mt
	}

	key := blobKey()
	body := &countingReader{r: resp.Body}
	var src io.Reader = body
	if maxBytes > 0 {
		src = io.LimitReader(body, maxBytes+1)
	}
	if err := m.blobs.Put(ctx, key, src, contentType); err != nil {
		return nil, wserr.Host(wserr.CodeFileDownloadFailed, err)
	}
	if maxBytes > 0 && body.n > maxBytes {
		m.deleteBlob(ctx, key)
		return nil, tooLarge(maxBytes)
	}
	m.repo.OnRollback(ctx, func() { m.deleteBlob(ctx, key) })

	itemID, err := m.repo.UnusedDraftItemID(ctx, userID)
	if err != nil {
		m.deleteBlob(ctx, key)
		return nil, wserr.Host(wserr.CodeDatabaseError, err)
	}
	d := &Draft{
		UserID: userID,
		ItemID: itemID,
		File: model.StoredFile{
			Context:   model.UserContext(userID),
			Component: ComponentUser,
			FileArea:  AreaDraft,
			ItemID:    itemID,
			FilePath:  "/",
			FileName:  strconv.FormatInt(m.now().Unix(), 10) + ".pdf",
			BlobKey:   key,
			MimeType:  contentType,
			Size:      body.n,
			UserID:    userID,
		},
	}
	if _, err := m.repo.InsertFile(ctx, &d.File); err != nil {
		m.deleteBlob(ctx, key)
		return nil, wserr.Host(wserr.CodeDatabaseError, err)
	}
	slog.Debug("staged draft file", "user", userID, "itemid", itemID, "size", body.n, "backend", m.blobs.Backend())
	return d, nil
}

// AttachToModule moves the draft files into the content area of a resource
// module and gives the module displayName.
func (m *Manager) AttachToModule(ctx context.Context, d *Draft, moduleID int64, displayName string) error {
	files, err := m.repo.AreaFiles(ctx, model.UserContext(d.UserID), ComponentUser, AreaDraft, d.ItemID)
	if err != nil {
		return wserr.Host(wserr.CodeDatabaseError, err)
	}
	if len(files) == 0 {
		return wserr.Host(wserr.CodeFileDownloadFailed, fmt.Errorf("draft %d of user %d is empty", d.ItemID, d.UserID))
	}
	for _, f := range files {
		if err := m.repo.MoveFile(ctx, f.ID, model.ModuleContext(moduleID), ComponentResource, AreaContent, 0); err != nil {
			return wserr.Host(wserr.CodeDatabaseError, err)
		}
	}
	if displayName != "" {
		if err := m.repo.RenameModule(ctx, moduleID, displayName); err != nil {
			return wserr.Host(wserr.CodeDatabaseError, err)
		}
	}
	return nil
}

// Discard removes a draft and its content.
func (m *Manager) Discard(ctx context.Context, d *Draft) error {
	files, err := m.repo.AreaFiles(ctx, model.UserContext(d.UserID), ComponentUser, AreaDraft, d.ItemID)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := m.repo.DeleteFile(ctx, f.ID); err != nil {
			return err
		}
		m.deleteBlob(ctx, f.BlobKey)
	}
	return nil
}

func (m *Manager) deleteBlob(ctx context.Context, key string) {
	if err := m.blobs.Delete(context.WithoutCancel(ctx), key); err != nil {
		slog.Warn("failed to delete blob", "key", key, "error", err)
	}
}

func tooLarge(maxBytes int64) error {
	return &wserr.Error{Kind: wserr.KindPolicy, Code: wserr.CodeFileTooLarge, Param: strconv.FormatInt(maxBytes, 10)}
}

// blobKey spreads blobs over 256 directories.
func blobKey() string {
	id := uuid.NewString()
	return id[:2] + "/" + id
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
