package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"oral-eval-platform/internal/logger"
)

// AudioStore wraps a MinIO client scoped to the bucket holding recorded
// answer segments.
type AudioStore struct {
	client     *minio.Client
	bucketName string
	log        *logrus.Entry
}

// NewAudioStore initializes the audio blob store from environment variables.
func NewAudioStore() (*AudioStore, error) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	accessKeyID := os.Getenv("MINIO_ACCESS_KEY_ID")
	secretAccessKey := os.Getenv("MINIO_SECRET_ACCESS_KEY")
	bucketName := os.Getenv("MINIO_BUCKET_NAME")
	useSSLStr := os.Getenv("MINIO_USE_SSL")

	if endpoint == "" || accessKeyID == "" || secretAccessKey == "" || bucketName == "" {
		return nil, fmt.Errorf("MINIO_ENDPOINT, MINIO_ACCESS_KEY_ID, MINIO_SECRET_ACCESS_KEY, and MINIO_BUCKET_NAME must be set")
	}

	log := logger.New().Module("objectstore")

	useSSL, err := strconv.ParseBool(useSSLStr)
	if err != nil {
		useSSL = false
	}

	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKeyID, secretAccessKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	ctx := context.Background()
	exists, err := minioClient.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check if MinIO bucket '%s' exists: %w", bucketName, err)
	}
	if !exists {
		if err := minioClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create MinIO bucket '%s': %w", bucketName, err)
		}
		log.WithField("bucket", bucketName).Info("created audio bucket")
	}

	return &AudioStore{
		client:     minioClient,
		bucketName: bucketName,
		log:        log,
	}, nil
}

// PutSegment stores one recorded segment under owner/test scoping and returns
// the object path the job manifest will reference.
func (s *AudioStore) PutSegment(ctx context.Context, ownerID, testID string, data []byte, contentType string) (string, error) {
	ext := extensionForContentType(contentType)
	objectName := path.Join(ownerID, testID, uuid.New().String()+ext)

	_, err := s.client.PutObject(ctx, s.bucketName, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload segment to MinIO (bucket: %s, object: %s): %w", s.bucketName, objectName, err)
	}

	s.log.WithFields(logrus.Fields{
		"object": objectName,
		"bytes":  len(data),
	}).Info("uploaded audio segment")
	return objectName, nil
}

// GetSegmentBytes retrieves a segment's raw bytes and content type by path.
func (s *AudioStore) GetSegmentBytes(ctx context.Context, objectName string) ([]byte, string, error) {
	object, err := s.client.GetObject(ctx, s.bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("failed to get object '%s' from bucket '%s': %w", objectName, s.bucketName, err)
	}
	defer object.Close()

	stat, err := object.Stat()
	if err != nil {
		return nil, "", fmt.Errorf("failed to stat object '%s': %w", objectName, err)
	}

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read object '%s' data: %w", objectName, err)
	}
	return data, stat.ContentType, nil
}

func extensionForContentType(contentType string) string {
	switch contentType {
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/mp4", "audio/m4a":
		return ".m4a"
	default:
		return ""
	}
}
