// Package storage提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"context"
	"fmt"
	"io"

	"medassist-go/internal/config"
	"medassist-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在，返回绑定该存储桶的 ObjectStore。
func InitMinIO(cfg config.MinIOConfig) *ObjectStore {
	var err error

	// 1. 初始化 MinIO 客户端
	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatal("初始化 MinIO 客户端失败", err)
	}

	log.Info("MinIO 客户端初始化成功")

	// 2. 检查存储桶 (Bucket) 是否存在，如果不存在则创建
	ctx := context.Background()
	bucketName := cfg.BucketName
	exists, err := MinioClient.BucketExists(ctx, bucketName)
	if err != nil {
		log.Fatal("检查 MinIO 存储桶失败", err)
	}

	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", bucketName)
		err = MinioClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
		if err != nil {
			log.Fatal("创建 MinIO 存储桶失败", err)
		}
		log.Infof("存储桶 '%s' 创建成功", bucketName)
	} else {
		log.Infof("存储桶 '%s' 已存在", bucketName)
	}
	return NewObjectStore(MinioClient, bucketName)
}

// ObjectStore 在单个存储桶内读写对象。
type ObjectStore struct {
	client *minio.Client
	bucket string
}

func NewObjectStore(client *minio.Client, bucket string) *ObjectStore {
	return &ObjectStore{client: client, bucket: bucket}
}

// Put 上传对象，size 未知时传 -1。
func (s *ObjectStore) Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectName, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("上传对象 %s 失败: %w", objectName, err)
	}
	return nil
}

// Read 读取整个对象。
func (s *ObjectStore) Read(ctx context.Context, objectName string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("从 MinIO 下载对象 %s 失败: %w", objectName, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("读取 MinIO 对象 %s 失败: %w", objectName, err)
	}
	return data, nil
}
