// Package storage archives finished transcripts to Supabase object storage.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/supabase-community/supabase-go"

	"github.com/mdwoicke/jefferson-dental-sub001/internal/transcript"
)

// Config holds Supabase connection settings.
type Config struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
}

// Store uploads transcripts to a Supabase bucket.
type Store struct {
	client *supabase.Client
	bucket string
	log    zerolog.Logger
}

// New creates a store. Returns an error instead of panicking so a misconfig
// degrades to no archival rather than killing the process.
func New(cfg Config, log zerolog.Logger) (*Store, error) {
	client, err := supabase.NewClient(cfg.URL, cfg.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("storage: create Supabase client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket, log: log}, nil
}

// Upload writes raw bytes to the bucket.
func (s *Store) Upload(key string, data []byte) error {
	_, err := s.client.Storage.UploadFile(s.bucket, key, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("storage: upload %s: %w", key, err)
	}
	return nil
}

// ArchiveTranscript serializes the session transcript as JSON and uploads it
// under a timestamped key. Shaped to plug in as a session archiver.
func (s *Store) ArchiveTranscript(ctx context.Context, entries []transcript.Entry) error {
	_ = ctx // the Supabase client does not thread contexts through uploads
	doc := struct {
		ArchivedAt time.Time          `json:"archivedAt"`
		Entries    []transcript.Entry `json:"entries"`
	}{
		ArchivedAt: time.Now().UTC(),
		Entries:    entries,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("storage: marshal transcript: %w", err)
	}
	key := fmt.Sprintf("transcript_%s.json", time.Now().UTC().Format("20060102T150405Z"))
	if err := s.Upload(key, data); err != nil {
		return err
	}
	s.log.Info().Str("key", key).Int("entries", len(entries)).Msg("transcript archived")
	return nil
}
