package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/marmos91/artifactgrid/pkg/provider/storage"
)

// CreateMultipartUpload implements storage.Provider.
func (s *Store) CreateMultipartUpload(ctx context.Context, bucket, key, contentType string) (string, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return "", err
	}

	row := uploadRow{
		UploadID:    uuid.NewString(),
		Bucket:      bucket,
		Key:         key,
		ContentType: contentType,
		StartedAt:   time.Now().UTC(),
	}
	if err := db.Create(&row).Error; err != nil {
		return "", fmt.Errorf("failed to open multipart upload: %w", err)
	}
	return row.UploadID, nil
}

func (s *Store) findUpload(db *gorm.DB, uploadID string) (*uploadRow, error) {
	var row uploadRow
	err := db.Where("upload_id = ?", uploadID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNoSuchUpload, uploadID)
		}
		return nil, err
	}
	return &row, nil
}

// UploadPart implements storage.Provider. Re-uploading a part number
// replaces the earlier body.
func (s *Store) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, data []byte) (string, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return "", err
	}
	if _, err := s.findUpload(db, uploadID); err != nil {
		return "", err
	}

	etag := etagFor(data)
	err = db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("upload_id = ? AND part_number = ?", uploadID, partNumber).Delete(&partRow{})
		if res.Error != nil {
			return res.Error
		}
		return tx.Create(&partRow{
			UploadID:   uploadID,
			PartNumber: partNumber,
			Body:       data,
			ETag:       etag,
		}).Error
	})
	if err != nil {
		return "", fmt.Errorf("failed to store part %d: %w", partNumber, err)
	}
	return etag, nil
}

// PresignUploadPart implements storage.Provider.
func (s *Store) PresignUploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, expires time.Duration) (string, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return "", err
	}
	if _, err := s.findUpload(db, uploadID); err != nil {
		return "", err
	}
	partKey := fmt.Sprintf("%s?uploadId=%s&partNumber=%d", key, uploadID, partNumber)
	return s.signer.SignURL("sqlite", bucket, partKey, storage.PresignMethodPut, expires)
}

// CompleteMultipartUpload implements storage.Provider.
func (s *Store) CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []storage.CompletedPart) (string, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return "", err
	}
	upload, err := s.findUpload(db, uploadID)
	if err != nil {
		return "", err
	}

	var body []byte
	for _, p := range parts {
		var row partRow
		err := db.Where("upload_id = ? AND part_number = ?", uploadID, p.PartNumber).First(&row).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return "", fmt.Errorf("%w: part %d was never uploaded", storage.ErrNoSuchUpload, p.PartNumber)
			}
			return "", err
		}
		body = append(body, row.Body...)
	}

	etag, err := s.Put(ctx, storage.PutInput{
		Bucket:      bucket,
		Key:         key,
		Body:        body,
		ContentType: upload.ContentType,
	})
	if err != nil {
		return "", err
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("upload_id = ?", uploadID).Delete(&partRow{}).Error; err != nil {
			return err
		}
		return tx.Where("upload_id = ?", uploadID).Delete(&uploadRow{}).Error
	})
	if err != nil {
		return "", err
	}
	return etag, nil
}

// AbortMultipartUpload implements storage.Provider. Unknown ids succeed.
func (s *Store) AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("upload_id = ?", uploadID).Delete(&partRow{}).Error; err != nil {
			return err
		}
		return tx.Where("upload_id = ?", uploadID).Delete(&uploadRow{}).Error
	})
}
