package storage

import (
	"context"
	"testing"

	"github.com/ekrata/echomimic-v2/internal/config"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.StorageConfig
		want    string
		wantErr bool
	}{
		{name: "localfs", cfg: config.StorageConfig{Provider: "localfs", LocalRoot: t.TempDir()}, want: "localfs"},
		{name: "s3", cfg: config.StorageConfig{Provider: "s3", Bucket: "avatars", S3Region: "us-east-1"}, want: "s3"},
		{name: "s3 without bucket", cfg: config.StorageConfig{Provider: "s3"}, wantErr: true},
		{name: "gdrive without client", cfg: config.StorageConfig{Provider: "gdrive"}, wantErr: true},
		{name: "unknown", cfg: config.StorageConfig{Provider: "ftp"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(context.Background(), tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewProvider: %v", err)
			}
			if p.Provider() != tt.want {
				t.Errorf("expected %s, got %s", tt.want, p.Provider())
			}
		})
	}
}
