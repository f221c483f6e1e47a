// Package sqlite implements a storage provider on a single SQLite database
// file. Objects, their metadata and in-flight multipart uploads all live in
// relational tables, which makes the provider durable without requiring an
// object store and keeps the whole artifact space inspectable with any
// SQLite client.
package sqlite

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/marmos91/artifactgrid/pkg/provider/storage"
)

// ProviderName is the registered name of this adapter.
const ProviderName = "sqlite"

// Config holds configuration for the SQLite provider.
type Config struct {
	// Path is the database file path, or ":memory:" for an in-memory
	// database. Required.
	Path string
}

// objectRow is the gorm model for stored objects.
type objectRow struct {
	ID           uint   `gorm:"primaryKey"`
	Bucket       string `gorm:"uniqueIndex:idx_bucket_key;size:255"`
	Key          string `gorm:"uniqueIndex:idx_bucket_key;size:1024"`
	Body         []byte
	ContentType  string
	MetadataJSON string
	ETag         string
	LastModified time.Time
}

func (objectRow) TableName() string { return "objects" }

// uploadRow is the gorm model for open multipart uploads.
type uploadRow struct {
	UploadID    string `gorm:"primaryKey;size:64"`
	Bucket      string `gorm:"size:255"`
	Key         string `gorm:"size:1024"`
	ContentType string
	StartedAt   time.Time
}

func (uploadRow) TableName() string { return "uploads" }

// partRow is the gorm model for uploaded parts.
type partRow struct {
	ID         uint   `gorm:"primaryKey"`
	UploadID   string `gorm:"uniqueIndex:idx_upload_part;size:64"`
	PartNumber int32  `gorm:"uniqueIndex:idx_upload_part"`
	Body       []byte
	ETag       string
}

func (partRow) TableName() string { return "upload_parts" }

// Store is the SQLite implementation of storage.Provider.
type Store struct {
	mu     sync.Mutex
	db     *gorm.DB
	signer *storage.PresignSigner
	closed bool
}

// New opens (or creates) the database at cfg.Path and migrates the schema.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}
	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if err := db.AutoMigrate(&objectRow{}, &uploadRow{}, &partRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{
		db:     db,
		signer: storage.DefaultSigner(),
	}, nil
}

// Name implements storage.Provider.
func (s *Store) Name() string { return ProviderName }

func (s *Store) conn(ctx context.Context) (*gorm.DB, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, storage.ErrProviderClosed
	}
	return s.db.WithContext(ctx), nil
}

func etagFor(body []byte) string {
	sum := md5.Sum(body)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func marshalMeta(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	return string(raw), err
}

func unmarshalMeta(raw string) map[string]string {
	m := map[string]string{}
	if raw != "" {
		json.Unmarshal([]byte(raw), &m)
	}
	return m
}

// Put implements storage.Provider with an upsert on (bucket, key).
func (s *Store) Put(ctx context.Context, in storage.PutInput) (string, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return "", err
	}

	metaJSON, err := marshalMeta(in.Metadata)
	if err != nil {
		return "", err
	}
	row := objectRow{
		Bucket:       in.Bucket,
		Key:          in.Key,
		Body:         in.Body,
		ContentType:  in.ContentType,
		MetadataJSON: metaJSON,
		ETag:         etagFor(in.Body),
		LastModified: time.Now().UTC(),
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("bucket = ? AND key = ?", in.Bucket, in.Key).Delete(&objectRow{})
		if res.Error != nil {
			return res.Error
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return "", fmt.Errorf("failed to store object: %w", err)
	}
	return row.ETag, nil
}

func (s *Store) find(ctx context.Context, bucket, key string) (*objectRow, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var row objectRow
	err = db.Where("bucket = ? AND key = ?", bucket, key).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", storage.ErrNoSuchKey, bucket, key)
		}
		return nil, err
	}
	return &row, nil
}

// Get implements storage.Provider.
func (s *Store) Get(ctx context.Context, bucket, key string) (*storage.Object, error) {
	row, err := s.find(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	return &storage.Object{
		Body:          row.Body,
		ContentType:   row.ContentType,
		ContentLength: int64(len(row.Body)),
		Metadata:      unmarshalMeta(row.MetadataJSON),
		ETag:          row.ETag,
		LastModified:  row.LastModified,
	}, nil
}

// Head implements storage.Provider.
func (s *Store) Head(ctx context.Context, bucket, key string) (*storage.ObjectInfo, error) {
	row, err := s.find(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	return &storage.ObjectInfo{
		Key:           key,
		ContentType:   row.ContentType,
		ContentLength: int64(len(row.Body)),
		Metadata:      unmarshalMeta(row.MetadataJSON),
		ETag:          row.ETag,
		LastModified:  row.LastModified,
	}, nil
}

// HeadBucket implements storage.Provider. Buckets are implicit rows, so any
// bucket name is acceptable on an open store.
func (s *Store) HeadBucket(ctx context.Context, bucket string) error {
	_, err := s.conn(ctx)
	return err
}

// List implements storage.Provider.
func (s *Store) List(ctx context.Context, bucket, prefix string, maxKeys int) (*storage.ListResult, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	if maxKeys <= 0 {
		maxKeys = 1000
	}

	var rows []objectRow
	q := db.Select("key", "body", "e_tag", "last_modified").
		Where("bucket = ?", bucket).
		Order("key").
		Limit(maxKeys + 1)
	if prefix != "" {
		q = q.Where("key LIKE ?", escapeLike(prefix)+"%")
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	truncated := false
	if len(rows) > maxKeys {
		rows = rows[:maxKeys]
		truncated = true
	}

	result := &storage.ListResult{
		Contents:    make([]storage.ListEntry, 0, len(rows)),
		KeyCount:    len(rows),
		IsTruncated: truncated,
	}
	for _, r := range rows {
		result.Contents = append(result.Contents, storage.ListEntry{
			Key:          r.Key,
			Size:         int64(len(r.Body)),
			ETag:         r.ETag,
			LastModified: r.LastModified,
		})
	}
	return result, nil
}

// escapeLike escapes SQL LIKE wildcards so prefixes match literally.
func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

// Delete implements storage.Provider. Absent keys succeed.
func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	return db.Where("bucket = ? AND key = ?", bucket, key).Delete(&objectRow{}).Error
}

// DeleteBatch implements storage.Provider.
func (s *Store) DeleteBatch(ctx context.Context, bucket string, keys []string) ([]string, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	if err := db.Where("bucket = ? AND key IN ?", bucket, keys).Delete(&objectRow{}).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

// Copy implements storage.Provider.
func (s *Store) Copy(ctx context.Context, bucket, srcKey, dstKey string) (string, error) {
	obj, err := s.Get(ctx, bucket, srcKey)
	if err != nil {
		return "", err
	}
	return s.Put(ctx, storage.PutInput{
		Bucket:      bucket,
		Key:         dstKey,
		Body:        obj.Body,
		ContentType: obj.ContentType,
		Metadata:    obj.Metadata,
	})
}

// PresignGet implements storage.Provider. Fails with ErrNoSuchKey when the
// object does not exist.
func (s *Store) PresignGet(ctx context.Context, bucket, key string, expires time.Duration) (string, error) {
	if _, err := s.find(ctx, bucket, key); err != nil {
		return "", err
	}
	return s.signer.SignURL("sqlite", bucket, key, storage.PresignMethodGet, expires)
}

// PresignPut implements storage.Provider.
func (s *Store) PresignPut(ctx context.Context, bucket, key string, expires time.Duration) (string, error) {
	if _, err := s.conn(ctx); err != nil {
		return "", err
	}
	return s.signer.SignURL("sqlite", bucket, key, storage.PresignMethodPut, expires)
}

// Close implements storage.Provider.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ensure Store implements storage.Provider.
var _ storage.Provider = (*Store)(nil)
