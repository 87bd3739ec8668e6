package report

import (
	"bytes"
	"context"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	xerrors "ChemResponse-Chain/internal/errors"
)

// S3Config 为兼容 S3 的对象存储参数。
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// S3Sink 把文档写入对象存储，键为 <prefix>/<runID>/<file>。
type S3Sink struct {
	client   *minio.Client
	bucket   string
	region   string
	prefix   string
	initOnce sync.Once
	initErr  error
}

// NewS3Sink 校验配置并创建客户端，bucket 在首次保存时按需创建。
func NewS3Sink(cfg S3Config) (*S3Sink, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "s3 endpoint 不能为空")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "s3 access key 和 secret key 不能为空")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "s3 bucket 不能为空")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化 s3 客户端失败")
	}
	return &S3Sink{
		client: client,
		bucket: bucket,
		region: region,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (s *S3Sink) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

// Save 实现 Sink，返回 s3://bucket/prefix 形式的位置。
func (s *S3Sink) Save(ctx context.Context, runID string, docs Documents) (string, error) {
	if err := ValidateRunID(runID); err != nil {
		return "", err
	}
	files, err := encode(docs)
	if err != nil {
		return "", err
	}
	if err := s.ensureBucket(ctx); err != nil {
		return "", xerrors.Wrap(xerrors.CodeReportFailure, err, "检查 bucket 失败")
	}
	base := s.objectPrefix(runID)
	for _, f := range files {
		_, err := s.client.PutObject(ctx, s.bucket, base+"/"+f.name, bytes.NewReader(f.data), int64(len(f.data)), minio.PutObjectOptions{
			ContentType: "application/json; charset=utf-8",
		})
		if err != nil {
			return "", xerrors.Wrap(xerrors.CodeReportFailure, err, "上传 "+f.name+" 失败")
		}
	}
	return "s3://" + s.bucket + "/" + base, nil
}

func (s *S3Sink) objectPrefix(runID string) string {
	if s.prefix == "" {
		return runID
	}
	return s.prefix + "/" + runID
}
