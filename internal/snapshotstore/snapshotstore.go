// Package snapshotstore implements the object-store interface spec.md
// §4.11 requires for snapshot persistence, backed by aws-sdk-go-v2's S3
// client (which also speaks any S3-compatible endpoint via
// force_path_style + a custom endpoint URL, covering self-hosted object
// storage without a second SDK). Grounded on SPEC_FULL.md's domain-stack
// guidance to wire a real object-storage SDK from the example pack rather
// than hand-rolling HTTP calls against S3's REST API.
package snapshotstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/marcua/ayb/common"
)

// Info is one snapshot's identity as listed by Store.List.
type Info struct {
	ID           string
	LastModified time.Time
}

// Store is the snapshot object-store capability set (spec.md §4.11).
//
//go:generate mockgen --destination=mock_store.go --package=snapshotstore . Store
type Store interface {
	Put(ctx context.Context, entity, database, id string, r io.Reader) error
	Get(ctx context.Context, entity, database, id string) (io.ReadCloser, error)
	List(ctx context.Context, entity, database string) ([]Info, error)
	DeleteMany(ctx context.Context, entity, database string, ids []string) error
}

// Config mirrors config.SnapshotsConfig's connection fields.
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	PathPrefix      string
	EndpointURL     string
	Region          string
	ForcePathStyle  bool
}

// S3Store is the real implementation.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// Open builds an S3Store from cfg.
func Open(ctx context.Context, cfg Config) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, common.Wrap(common.KindIO, "loading object storage configuration", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle

		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}
	})

	return &S3Store{client: client, bucket: cfg.Bucket, prefix: cfg.PathPrefix}, nil
}

func (s *S3Store) key(entity, database, id string) string {
	return fmt.Sprintf("%s/%s/%s/%s", strings.Trim(s.prefix, "/"), entity, database, id)
}

func (s *S3Store) keyPrefix(entity, database string) string {
	return fmt.Sprintf("%s/%s/%s/", strings.Trim(s.prefix, "/"), entity, database)
}

// Put uploads r under entity/database/id.
func (s *S3Store) Put(ctx context.Context, entity, database, id string, r io.Reader) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(entity, database, id)),
		Body:   r,
	})
	if err != nil {
		return common.Wrap(common.KindStorageError, "uploading snapshot", err)
	}

	return nil
}

// Get downloads entity/database/id as a stream, translating a missing
// object to SnapshotDoesNotExist (spec.md §4.11).
func (s *S3Store) Get(ctx context.Context, entity, database, id string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(entity, database, id)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, common.New(common.KindSnapshotDoesNotExist, "snapshot does not exist")
		}

		return nil, common.Wrap(common.KindStorageError, "downloading snapshot", err)
	}

	return out.Body, nil
}

// List returns entity/database's snapshots, newest first.
func (s *S3Store) List(ctx context.Context, entity, database string) ([]Info, error) {
	prefix := s.keyPrefix(entity, database)

	var infos []Info

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, common.Wrap(common.KindStorageError, "listing snapshots", err)
		}

		for _, obj := range page.Contents {
			id := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if id == "" {
				continue
			}

			infos = append(infos, Info{ID: id, LastModified: aws.ToTime(obj.LastModified)})
		}
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].LastModified.After(infos[j].LastModified)
	})

	return infos, nil
}

// DeleteMany removes entity/database's snapshots named in ids. Deletes are
// idempotent and best-effort (spec.md §5's retention-is-best-effort rule).
func (s *S3Store) DeleteMany(ctx context.Context, entity, database string, ids []string) error {
	for _, id := range ids {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(entity, database, id)),
		})
		if err != nil {
			return common.Wrap(common.KindStorageError, "deleting snapshot", err)
		}
	}

	return nil
}

func isNoSuchKey(err error) bool {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == 404
	}

	return strings.Contains(err.Error(), "NoSuchKey")
}
