// Package objstore implements the object store adapter over
// S3-compatible providers. Control-plane calls (buckets, head,
// cold-tier restore) go through the AWS SDK; bulk data movement is
// delegated to rclone; FUSE attach/detach to the mount helper.
package objstore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"froster-go/internal/froster"
)

// Session carries the provider settings one Store is bound to.
type Session struct {
	Provider string // aws, wasabi, gcs, idrive, ceph, minio, other
	Profile  string // shared credentials profile name
	Endpoint string
	Region   string
}

// Store is the real ObjectStore implementation.
type Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	session  Session
	rclone   *Rclone
	mounter  *Mounter
	idgen    froster.IDGenerator
	logger   froster.Logger
}

// NewStore builds a Store for the session. Credentials come from the
// shared config profile; AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY in
// the environment take precedence, which is how headless batch jobs
// authenticate on nodes without a credentials file.
func NewStore(ctx context.Context, session Session, rclone *Rclone, mounter *Mounter, idgen froster.IDGenerator, logger froster.Logger) (*Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(session.Region),
	}
	if key, secret := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY"); key != "" && secret != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(key, secret, os.Getenv("AWS_SESSION_TOKEN"))))
	} else if session.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(session.Profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: loading AWS config: %v", froster.ErrConfigMissing, err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if session.Endpoint != "" {
			o.BaseEndpoint = aws.String(session.Endpoint)
		}
		if session.Provider != "aws" {
			o.UsePathStyle = true
		}
	})

	return &Store{
		client:   client,
		uploader: manager.NewUploader(client),
		session:  session,
		rclone:   rclone,
		mounter:  mounter,
		idgen:    idgen,
		logger:   logger,
	}, nil
}

// ListBuckets returns the bucket names visible to the session.
func (s *Store) ListBuckets(ctx context.Context) ([]string, error) {
	var names []string
	err := withRetry(ctx, s.logger, "ListBuckets", func() error {
		out, err := s.client.ListBuckets(ctx, &s3.ListBucketsInput{})
		if err != nil {
			return err
		}
		names = names[:0]
		for _, b := range out.Buckets {
			names = append(names, aws.ToString(b.Name))
		}
		return nil
	})
	return names, err
}

// CreateBucket creates the bucket if it does not already exist. On AWS
// it also applies AES-256 server side encryption to new buckets.
func (s *Store) CreateBucket(ctx context.Context, name string) error {
	err := withRetry(ctx, s.logger, "HeadBucket", func() error {
		_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(name)})
		return err
	})
	if err == nil {
		s.logger.Debug("bucket already exists", "bucket", name)
		return nil
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(name)}
	// us-east-1 is the one region that must not be sent as a location
	// constraint.
	if s.session.Region != "" && s.session.Region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.session.Region),
		}
	}
	err = withRetry(ctx, s.logger, "CreateBucket", func() error {
		_, err := s.client.CreateBucket(ctx, input)
		if err != nil && (strings.Contains(err.Error(), "BucketAlreadyOwnedByYou") ||
			strings.Contains(err.Error(), "BucketAlreadyExists")) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("creating bucket %s: %w", name, err)
	}

	if s.session.Provider == "aws" {
		err = withRetry(ctx, s.logger, "PutBucketEncryption", func() error {
			_, err := s.client.PutBucketEncryption(ctx, &s3.PutBucketEncryptionInput{
				Bucket: aws.String(name),
				ServerSideEncryptionConfiguration: &types.ServerSideEncryptionConfiguration{
					Rules: []types.ServerSideEncryptionRule{{
						ApplyServerSideEncryptionByDefault: &types.ServerSideEncryptionByDefault{
							SSEAlgorithm: types.ServerSideEncryptionAes256,
						},
					}},
				},
			})
			return err
		})
		if err != nil {
			return fmt.Errorf("enabling encryption on %s: %w", name, err)
		}
	}

	s.logger.Info("bucket created", "bucket", name, "region", s.session.Region)
	return nil
}

// HeadBucket probes read and write access. The write probe puts and
// deletes a zero-byte object under an opaque key so it never collides
// with user data.
func (s *Store) HeadBucket(ctx context.Context, name string) (froster.BucketAccess, error) {
	var access froster.BucketAccess

	err := withRetry(ctx, s.logger, "HeadBucket", func() error {
		_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(name)})
		return err
	})
	if err != nil {
		return access, fmt.Errorf("bucket %s not accessible: %w", name, err)
	}
	access.Readable = true

	probeKey := ".froster-probe-" + s.idgen.New()
	err = withRetry(ctx, s.logger, "PutProbe", func() error {
		_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(name),
			Key:    aws.String(probeKey),
			Body:   bytes.NewReader(nil),
		})
		return err
	})
	if err != nil {
		s.logger.Warn("bucket is not writable", "bucket", name, "error", err)
		return access, nil
	}
	access.Writable = true

	err = withRetry(ctx, s.logger, "DeleteProbe", func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(name),
			Key:    aws.String(probeKey),
		})
		return err
	})
	if err != nil {
		s.logger.Warn("could not remove write probe", "bucket", name, "key", probeKey, "error", err)
	}
	return access, nil
}

// RestoreObjects walks the objects under prefix and issues cold-tier
// restores where needed, partitioning every object into exactly one of
// the four tally sets. Safe to re-invoke: objects with a retrieval in
// flight are reported, not re-requested.
func (s *Store) RestoreObjects(ctx context.Context, bucket, prefix string, days int, tier froster.RetrievalTier) (froster.RestoreTally, error) {
	var tally froster.RestoreTally

	listPrefix := strings.TrimSuffix(prefix, "/") + "/"
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(listPrefix),
	})
	for p.HasMorePages() {
		var page *s3.ListObjectsV2Output
		err := withRetry(ctx, s.logger, "ListObjects", func() error {
			var err error
			page, err = p.NextPage(ctx)
			return err
		})
		if err != nil {
			return tally, fmt.Errorf("listing %s/%s: %w", bucket, prefix, err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue // subfolder marker
			}
			class := froster.StorageClass(obj.StorageClass)
			if !class.Cold() {
				tally.NotCold = append(tally.NotCold, key)
				continue
			}

			var head *s3.HeadObjectOutput
			err := withRetry(ctx, s.logger, "HeadObject", func() error {
				var err error
				head, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
					Bucket: aws.String(bucket),
					Key:    aws.String(key),
				})
				return err
			})
			if err != nil {
				return tally, fmt.Errorf("inspecting %s: %w", key, err)
			}

			restore := aws.ToString(head.Restore)
			switch {
			case strings.Contains(restore, `ongoing-request="true"`):
				tally.InProgress = append(tally.InProgress, key)
			case restore != "":
				tally.Completed = append(tally.Completed, key)
			default:
				err := withRetry(ctx, s.logger, "RestoreObject", func() error {
					_, err := s.client.RestoreObject(ctx, &s3.RestoreObjectInput{
						Bucket: aws.String(bucket),
						Key:    aws.String(key),
						RestoreRequest: &types.RestoreRequest{
							Days: aws.Int32(int32(days)),
							GlacierJobParameters: &types.GlacierJobParameters{
								Tier: types.Tier(tier),
							},
						},
					})
					return err
				})
				if err != nil {
					return tally, fmt.Errorf("triggering restore of %s: %w", key, err)
				}
				tally.Triggered = append(tally.Triggered, key)
			}
		}
	}

	s.logger.Info("restore tally", "bucket", bucket, "prefix", prefix,
		"triggered", len(tally.Triggered), "in_progress", len(tally.InProgress),
		"completed", len(tally.Completed), "not_cold", len(tally.NotCold))
	return tally, nil
}

// Copy delegates bulk data movement to rclone.
func (s *Store) Copy(ctx context.Context, src, dst string, opts froster.CopyOptions) (froster.CopyStats, error) {
	return s.rclone.Copy(ctx, src, dst, opts)
}

// Checksum delegates manifest verification to rclone.
func (s *Store) Checksum(ctx context.Context, md5File, dstPrefix string, opts froster.ChecksumOptions) (bool, error) {
	return s.rclone.Checksum(ctx, md5File, dstPrefix, opts)
}

// Mount attaches src read-only at mountpoint via the FUSE helper.
func (s *Store) Mount(ctx context.Context, src, mountpoint string) error {
	return s.mounter.Mount(ctx, src, mountpoint)
}

// Unmount detaches a froster mount.
func (s *Store) Unmount(ctx context.Context, mountpoint string) error {
	return s.mounter.Unmount(ctx, mountpoint)
}

// ListMounts returns the live froster mount points.
func (s *Store) ListMounts() ([]string, error) {
	return s.mounter.ListMounts()
}

// Compile-time check that Store implements froster.ObjectStore.
var _ froster.ObjectStore = (*Store)(nil)
