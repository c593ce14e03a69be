package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	s3pkg "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyendpoints "github.com/aws/smithy-go/endpoints"
)

// S3Options 描述对象存储后端的连接参数。Endpoint 为空时使用 AWS 默认解析。
type S3Options struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	// CreateBucket 为 true 时在启动阶段确保 bucket 存在，适用于 MinIO/LocalStack。
	CreateBucket bool
}

// s3Store 以单次 PutObject 写入正文；对象只在上传完成后对读者可见，
// 因而天然满足原子写要求。
type s3Store struct {
	client *s3pkg.Client
	bucket string
	prefix string
}

// NewS3Store 构建 S3 兼容的正文存储。
func NewS3Store(ctx context.Context, opts S3Options) (Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 bucket required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var clientOpts []func(*s3pkg.Options)
	if opts.Endpoint != "" {
		endpointURL, err := url.Parse(opts.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse s3 endpoint: %w", err)
		}
		clientOpts = append(clientOpts, func(o *s3pkg.Options) {
			o.EndpointResolverV2 = &s3EndpointResolver{url: endpointURL}
			o.UsePathStyle = true
		})
	}

	store := &s3Store{
		client: s3pkg.NewFromConfig(awsCfg, clientOpts...),
		bucket: opts.Bucket,
		prefix: strings.Trim(opts.Prefix, "/"),
	}

	if opts.CreateBucket {
		if err := store.ensureBucket(ctx); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func (s *s3Store) Backend() string {
	return "s3"
}

func (s *s3Store) Read(ctx context.Context, rel string) ([]byte, error) {
	key, err := s.objectKey(rel)
	if err != nil {
		return nil, err
	}

	result, err := s.client.GetObject(ctx, &s3pkg.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, convertS3Err(err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrNotFound
	}
	return data, nil
}

func (s *s3Store) Write(ctx context.Context, rel string, body io.Reader) (int64, error) {
	key, err := s.objectKey(rel)
	if err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	written, err := copyWithContext(ctx, &buf, body)
	if err != nil {
		return 0, err
	}

	_, err = s.client.PutObject(ctx, &s3pkg.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentLength: aws.Int64(written),
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

func (s *s3Store) ensureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3pkg.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	_, err = s.client.CreateBucket(ctx, &s3pkg.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("create s3 bucket: %w", err)
	}
	return nil
}

func (s *s3Store) objectKey(rel string) (string, error) {
	clean := strings.TrimPrefix(path.Clean("/"+rel), "/")
	if clean == "" || clean == "." {
		return "", errors.New("blob path required")
	}
	if s.prefix == "" {
		return clean, nil
	}
	return s.prefix + "/" + clean, nil
}

func convertS3Err(err error) error {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey

	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return ErrNotFound
	}
	return err
}

type s3EndpointResolver struct {
	url *url.URL
}

func (e *s3EndpointResolver) ResolveEndpoint(
	_ context.Context,
	params s3pkg.EndpointParameters,
) (smithyendpoints.Endpoint, error) {
	u := *e.url
	if params.Bucket != nil && *params.Bucket != "" {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/" + *params.Bucket
	}
	return smithyendpoints.Endpoint{URI: u}, nil
}
