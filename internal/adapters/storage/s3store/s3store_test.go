package s3store

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/ekrata/echomimic-v2/internal/ports"
)

func testConfig(creds aws.CredentialsProvider) aws.Config {
	return aws.Config{
		Region:           "us-east-1",
		Credentials:      creds,
		RetryMaxAttempts: 1,
	}
}

func staticCreds() aws.CredentialsProvider {
	return credentials.NewStaticCredentialsProvider("AKIDEXAMPLE", "secret", "")
}

type recorded struct {
	mu     sync.Mutex
	method string
	path   string
	body   string
}

func newServer(t *testing.T, status int, respBody string) (*httptest.Server, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.method, rec.path, rec.body = r.Method, r.URL.Path, string(b)
		rec.mu.Unlock()

		w.Header().Set("ETag", `"etag"`)
		if respBody != "" {
			w.Header().Set("Content-Type", "application/xml")
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(respBody))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func put(c *Client, key, body string) error {
	_, err := c.PutObject(context.Background(), ports.PutObjectInput{
		ObjectKey:   key,
		ContentType: "video/mp4",
		Reader:      strings.NewReader(body),
		Size:        int64(len(body)),
	})
	return err
}

func TestPutObjectUploadsToKey(t *testing.T) {
	srv, rec := newServer(t, http.StatusOK, "")
	c := NewFromConfig(testConfig(staticCreds()), Options{Bucket: "avatars", Endpoint: srv.URL, UsePathStyle: true})

	if err := put(c, "acme/v1", "video-bytes"); err != nil {
		t.Fatalf("PutObject: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.method != http.MethodPut || rec.path != "/avatars/acme/v1" {
		t.Errorf("unexpected request %s %s", rec.method, rec.path)
	}
	if !strings.Contains(rec.body, "video-bytes") {
		t.Errorf("body not uploaded: %q", rec.body)
	}
}

func TestCredentialClassification(t *testing.T) {
	tests := []struct {
		name  string
		creds aws.CredentialsProvider
		opt   Options
		want  error
	}{
		{
			name: "provider error",
			creds: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
				return aws.Credentials{}, errors.New("no EC2 IMDS role found")
			}),
			want: ports.ErrCredentialsMissing,
		},
		{
			name:  "nil provider",
			creds: nil,
			want:  ports.ErrCredentialsMissing,
		},
		{
			name: "secret missing",
			creds: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
				return aws.Credentials{AccessKeyID: "AKID", Source: "test"}, nil
			}),
			want: ports.ErrCredentialsIncomplete,
		},
		{
			name:  "partial static options",
			creds: staticCreds(),
			opt:   Options{AccessKeyID: "AKID"},
			want:  ports.ErrCredentialsIncomplete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, rec := newServer(t, http.StatusOK, "")
			tt.opt.Bucket = "avatars"
			tt.opt.Endpoint = srv.URL
			tt.opt.UsePathStyle = true

			err := put(NewFromConfig(testConfig(tt.creds), tt.opt), "acme/v1", "x")
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}

			rec.mu.Lock()
			defer rec.mu.Unlock()
			if rec.method != "" {
				t.Error("no request should be sent without usable credentials")
			}
		})
	}
}

func TestRejectedCredentialsAreCredentialFailures(t *testing.T) {
	srv, _ := newServer(t, http.StatusForbidden,
		`<?xml version="1.0" encoding="UTF-8"?><Error><Code>InvalidAccessKeyId</Code><Message>The AWS Access Key Id you provided does not exist.</Message></Error>`)
	c := NewFromConfig(testConfig(staticCreds()), Options{Bucket: "avatars", Endpoint: srv.URL, UsePathStyle: true})

	if err := put(c, "acme/v1", "x"); !errors.Is(err, ports.ErrCredentialsMissing) {
		t.Fatalf("expected credentials failure, got %v", err)
	}
}

func TestServerErrorIsTransport(t *testing.T) {
	srv, _ := newServer(t, http.StatusInternalServerError,
		`<?xml version="1.0" encoding="UTF-8"?><Error><Code>InternalError</Code><Message>boom</Message></Error>`)
	c := NewFromConfig(testConfig(staticCreds()), Options{Bucket: "avatars", Endpoint: srv.URL, UsePathStyle: true})

	err := put(c, "acme/v1", "x")
	if err == nil {
		t.Fatal("expected an error")
	}
	if errors.Is(err, ports.ErrCredentialsMissing) || errors.Is(err, ports.ErrCredentialsIncomplete) {
		t.Errorf("server errors are not credential failures: %v", err)
	}
}

func TestProviderAndBucket(t *testing.T) {
	c := NewFromConfig(testConfig(staticCreds()), Options{Bucket: "avatars"})
	if c.Provider() != "s3" || c.Bucket() != "avatars" {
		t.Errorf("unexpected %s %s", c.Provider(), c.Bucket())
	}
	if _, err := New(context.Background(), Options{}); err == nil {
		t.Error("expected New to require a bucket")
	}
}
