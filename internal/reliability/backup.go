// Package reliability provides the optional off-site backup of completed
// run databases to S3-compatible object storage.
package reliability

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	appconfig "github.com/aristath/stockagent/internal/config"
)

// BackupService uploads run databases to a configured bucket
type BackupService struct {
	uploader *manager.Uploader
	bucket   string
	log      zerolog.Logger
}

// NewBackupService creates a backup service against the configured
// S3-compatible endpoint.
func NewBackupService(ctx context.Context, cfg appconfig.BackupConfig, log zerolog.Logger) (*BackupService, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load backup credentials: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = &cfg.Endpoint
		o.UsePathStyle = true
	})

	return &BackupService{
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		log:      log.With().Str("service", "backup").Logger(),
	}, nil
}

// UploadRun compresses the run database and uploads it under runs/<runID>.
// The caller should checkpoint the WAL first so the file is self-contained.
func (s *BackupService) UploadRun(ctx context.Context, dbPath, runID string) error {
	s.log.Info().Str("run_id", runID).Msg("Starting run backup")
	startTime := time.Now()

	staged, err := s.stageCompressed(dbPath)
	if err != nil {
		return err
	}
	defer os.Remove(staged)

	checksum, err := calculateChecksum(staged)
	if err != nil {
		return fmt.Errorf("failed to calculate backup checksum: %w", err)
	}

	f, err := os.Open(staged)
	if err != nil {
		return fmt.Errorf("failed to open staged backup: %w", err)
	}
	defer f.Close()

	key := fmt.Sprintf("runs/%s.db.gz", runID)
	contentType := "application/gzip"
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        f,
		ContentType: &contentType,
		Metadata: map[string]string{
			"run-id":   runID,
			"checksum": checksum,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload run backup: %w", err)
	}

	s.log.Info().
		Str("run_id", runID).
		Str("key", key).
		Dur("elapsed", time.Since(startTime)).
		Msg("Run backup uploaded")
	return nil
}

// stageCompressed gzips the database into a temp file next to it
func (s *BackupService) stageCompressed(dbPath string) (string, error) {
	src, err := os.Open(dbPath)
	if err != nil {
		return "", fmt.Errorf("failed to open run database: %w", err)
	}
	defer src.Close()

	staged := filepath.Join(filepath.Dir(dbPath), filepath.Base(dbPath)+".staging.gz")
	dst, err := os.Create(staged)
	if err != nil {
		return "", fmt.Errorf("failed to create staging file: %w", err)
	}
	defer dst.Close()

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		_ = os.Remove(staged)
		return "", fmt.Errorf("failed to compress run database: %w", err)
	}
	if err := gz.Close(); err != nil {
		_ = os.Remove(staged)
		return "", fmt.Errorf("failed to finalize compressed backup: %w", err)
	}
	return staged, nil
}

func calculateChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
