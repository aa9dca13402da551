package storage

import (
	"bytes"
	"fmt"

	"github.com/supabase-community/supabase-go"
)

// SupabaseConfig points at a Supabase Storage bucket.
type SupabaseConfig struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
}

// SupabaseStorage implements Storage using Supabase's Storage API.
type SupabaseStorage struct {
	client *supabase.Client
	bucket string
}

// NewSupabaseStorage constructs a new Supabase storage client.
func NewSupabaseStorage(cfg SupabaseConfig) (*SupabaseStorage, error) {
	if cfg.URL == "" || cfg.ServiceRoleKey == "" {
		return nil, fmt.Errorf("missing Supabase configuration: SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY required")
	}
	client, err := supabase.NewClient(cfg.URL, cfg.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}
	return &SupabaseStorage{client: client, bucket: cfg.Bucket}, nil
}

func (s *SupabaseStorage) Upload(objectKey, contentType string, body []byte) error {
	if _, err := s.client.Storage.UploadFile(s.bucket, objectKey, bytes.NewReader(body)); err != nil {
		return fmt.Errorf("failed to upload %s to Supabase: %w", objectKey, err)
	}
	return nil
}
