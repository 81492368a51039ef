package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/aihub/corpus-go/internal/logger"
)

// MirrorOptions MinIO批注镜像配置
type MirrorOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
	// Prefix 对象键前缀，一般为语料库名
	Prefix string
}

// AnnotationMirror 把导出的批注文件上传到对象存储
type AnnotationMirror struct {
	client  *minio.Client
	bucket  string
	prefix  string
	logger  *zap.Logger
	mu      sync.Mutex
	ensured bool
}

// NewAnnotationMirror 创建MinIO客户端，bucket在首次上传时创建
func NewAnnotationMirror(opts MirrorOptions, log *zap.Logger) (*AnnotationMirror, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint not configured")
	}
	if opts.Bucket == "" {
		opts.Bucket = "corpus-annotations"
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	if log == nil {
		log = logger.Named("minio")
	}

	// minio.New 不需要协议前缀
	endpoint := strings.TrimPrefix(opts.Endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimSuffix(endpoint, "/")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &AnnotationMirror{
		client: client,
		bucket: opts.Bucket,
		prefix: strings.Trim(opts.Prefix, "/"),
		logger: log,
	}, nil
}

func (m *AnnotationMirror) ensureBucket(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ensured {
		return nil
	}
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", m.bucket, err)
	}
	if !exists {
		if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
			errStr := err.Error()
			if !strings.Contains(errStr, "BucketAlreadyExists") && !strings.Contains(errStr, "BucketAlreadyOwnedByYou") {
				return fmt.Errorf("create bucket %s: %w", m.bucket, err)
			}
		}
		m.logger.Info("MinIO bucket created", zap.String("bucket", m.bucket))
	}
	m.ensured = true
	return nil
}

// ObjectKey 批注文件在bucket中的键
func (m *AnnotationMirror) ObjectKey(name string) string {
	if m.prefix == "" {
		return "annotations/" + name
	}
	return path.Join(m.prefix, "annotations", name)
}

// Upload 上传批注内容
func (m *AnnotationMirror) Upload(ctx context.Context, name string, content []byte) error {
	if err := m.ensureBucket(ctx); err != nil {
		return err
	}
	key := m.ObjectKey(name)
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8"})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	m.logger.Debug("annotation mirrored", zap.String("bucket", m.bucket), zap.String("key", key))
	return nil
}
