// Package gdrive implements ports.StorageProvider on Google Drive.
package gdrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/ekrata/echomimic-v2/internal/ports"
)

// Options holds the OAuth client and the refresh token minted by cmd/gdrive-auth.
type Options struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	FolderID     string
}

// Client stores objects as Drive files. Uploads are named after the object
// key and tagged with it; the returned ObjectKey is the Drive file id used by
// Get and Delete.
type Client struct {
	srv      *drive.Service
	folderID string
}

// New builds a Drive service from a refresh token.
func New(ctx context.Context, opt Options) (*Client, error) {
	if opt.ClientID == "" || opt.ClientSecret == "" {
		return nil, fmt.Errorf("gdrive: client id and secret are required")
	}

	conf := &oauth2.Config{
		ClientID:     opt.ClientID,
		ClientSecret: opt.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
	}
	httpClient := conf.Client(ctx, &oauth2.Token{RefreshToken: opt.RefreshToken})

	srv, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, err
	}
	return NewClient(srv, opt.FolderID), nil
}

func NewClient(srv *drive.Service, folderID string) *Client {
	return &Client{srv: srv, folderID: folderID}
}

func (c *Client) Provider() string { return "gdrive" }

// PutObject uploads in.Reader under in.ObjectKey. A file already stored under
// the key is replaced in place, so resubmitting a video keeps one Drive file.
func (c *Client) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	if in.ObjectKey == "" {
		return ports.PutObjectOutput{}, fmt.Errorf("object_key is required")
	}

	existing, err := c.findByKey(ctx, in.ObjectKey)
	if err != nil {
		return ports.PutObjectOutput{}, classify(fmt.Errorf("gdrive lookup failed: %w", err))
	}

	media := []googleapi.MediaOption{}
	if in.ContentType != "" {
		media = append(media, googleapi.ContentType(in.ContentType))
	}

	var stored *drive.File
	if existing != "" {
		stored, err = c.srv.Files.Update(existing, &drive.File{}).
			SupportsAllDrives(true).
			Media(in.Reader, media...).
			Context(ctx).
			Do()
	} else {
		file := &drive.File{
			Name:          in.ObjectKey,
			AppProperties: map[string]string{objectKeyProperty: in.ObjectKey},
		}
		if c.folderID != "" {
			file.Parents = []string{c.folderID}
		}
		stored, err = c.srv.Files.Create(file).
			SupportsAllDrives(true).
			Media(in.Reader, media...).
			Context(ctx).
			Do()
	}
	if err != nil {
		return ports.PutObjectOutput{}, classify(fmt.Errorf("gdrive upload failed: %w", err))
	}

	return ports.PutObjectOutput{ObjectKey: stored.Id, Size: in.Size}, nil
}

// objectKeyProperty is the appProperty that records a file's object key.
const objectKeyProperty = "object_key"

// findByKey returns the id of the live file stored under objectKey, or "".
func (c *Client) findByKey(ctx context.Context, objectKey string) (string, error) {
	q := fmt.Sprintf("appProperties has { key='%s' and value='%s' } and trashed = false",
		objectKeyProperty, escapeQuery(objectKey))
	if c.folderID != "" {
		q += fmt.Sprintf(" and '%s' in parents", escapeQuery(c.folderID))
	}

	list, err := c.srv.Files.List().
		Q(q).
		Fields("files(id)").
		PageSize(1).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", err
	}
	if len(list.Files) == 0 {
		return "", nil
	}
	return list.Files[0].Id, nil
}

// escapeQuery escapes a value for a single-quoted Drive query literal.
func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

func (c *Client) GetObject(ctx context.Context, objectKey string) (io.ReadCloser, string, int64, error) {
	resp, err := c.srv.Files.Get(objectKey).
		SupportsAllDrives(true).
		Context(ctx).
		Download()
	if err != nil {
		return nil, "", 0, classify(err)
	}
	return resp.Body, resp.Header.Get("Content-Type"), resp.ContentLength, nil
}

func (c *Client) DeleteObject(ctx context.Context, objectKey string) error {
	err := c.srv.Files.Delete(objectKey).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	return classify(err)
}

// GetSignedURL returns the file's web content link. Drive links are not
// time-limited; ExpiresAt is informational.
func (c *Client) GetSignedURL(ctx context.Context, objectKey string, expiresIn time.Duration) (ports.SignedURLOutput, error) {
	f, err := c.srv.Files.Get(objectKey).
		SupportsAllDrives(true).
		Fields("webContentLink").
		Context(ctx).
		Do()
	if err != nil {
		return ports.SignedURLOutput{}, classify(err)
	}
	return ports.SignedURLOutput{URL: f.WebContentLink, ExpiresAt: time.Now().UTC().Add(expiresIn)}, nil
}

// Check calls about.get, which fails fast on a revoked refresh token.
func (c *Client) Check(ctx context.Context) error {
	_, err := c.srv.About.Get().Fields("user").Context(ctx).Do()
	return classify(err)
}

// classify maps token refresh failures and 401s to ports.ErrCredentialsMissing.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return fmt.Errorf("%w: %w", ports.ErrCredentialsMissing, err)
	}
	var ge *googleapi.Error
	if errors.As(err, &ge) && ge.Code == http.StatusUnauthorized {
		return fmt.Errorf("%w: %w", ports.ErrCredentialsMissing, err)
	}
	return err
}
