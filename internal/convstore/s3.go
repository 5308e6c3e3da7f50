package convstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Store keeps conversation records in an S3-compatible bucket (Yandex
// Object Storage in production).
type S3Store struct {
	client       *s3.Client
	bucket       string
	defaultModel string
}

func NewS3Store(client *s3.Client, bucket, defaultModel string) (*S3Store, error) {
	if client == nil {
		return nil, fmt.Errorf("convstore: nil s3 client")
	}
	if bucket == "" {
		return nil, fmt.Errorf("convstore: empty bucket")
	}
	return &S3Store{client: client, bucket: bucket, defaultModel: defaultModel}, nil
}

func (s *S3Store) GetOrCreate(ctx context.Context, userID int64) (Record, error) {
	rec, found, err := s.get(ctx, userID)
	if err != nil {
		return Record{}, err
	}
	if found {
		return rec, nil
	}
	return s.create(ctx, userID)
}

func (s *S3Store) get(ctx context.Context, userID int64) (Record, bool, error) {
	key := storageKey(userID)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return Record{}, false, fmt.Errorf("%w: read %s: %v", ErrUnavailable, key, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("%w: decode %s: %v", ErrUnavailable, key, err)
	}
	return normalize(rec, s.defaultModel), true, nil
}

// create writes the default record with a conditional put, so only the first
// of two racing first contacts creates it; the loser reads the winner's copy.
func (s *S3Store) create(ctx context.Context, userID int64) (Record, error) {
	key := storageKey(userID)
	rec := NewRecord(s.defaultModel)
	data, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("%w: encode %s: %v", ErrUnavailable, key, err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed" {
			rec, found, err := s.get(ctx, userID)
			if err != nil {
				return Record{}, err
			}
			if found {
				return rec, nil
			}
			return Record{}, fmt.Errorf("%w: create %s: lost precondition but object is gone", ErrUnavailable, key)
		}
		return Record{}, fmt.Errorf("%w: create %s: %v", ErrUnavailable, key, err)
	}
	return rec, nil
}

func (s *S3Store) Save(ctx context.Context, userID int64, rec Record) error {
	key := storageKey(userID)
	data, err := json.Marshal(normalize(rec, s.defaultModel))
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrUnavailable, key, err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("%w: put %s: %v", ErrUnavailable, key, err)
	}
	return nil
}
