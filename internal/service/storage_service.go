package service

import (
	"advanced_survey_backend/internal/config"
	"advanced_survey_backend/internal/util"
	"advanced_survey_backend/pkg/logger"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/golang-jwt/jwt/v5"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// StorageProvider 导出文件的存储后端
type StorageProvider interface {
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	// URLFor 返回下载地址，对象存储返回带签名的临时链接
	URLFor(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// ErrInvalidDownloadLink 本地下载链接签名无效或已过期
var ErrInvalidDownloadLink = errors.New("invalid or expired download link")

const localLinkAudience = "survey-export"

// LocalStorageProvider 本地存储实现，通过 /exports 路由下载。
// 下载链接带有限时签名，与对象存储的预签名链接一致。
type LocalStorageProvider struct {
	Config *config.StorageConfig
	// 签名密钥由 JWT 密钥派生，下载签名不能当作登录令牌使用
	SignKey []byte
	Now     func() time.Time
}

func NewLocalStorageProvider(cfg *config.StorageConfig, jwtSecret string) *LocalStorageProvider {
	return &LocalStorageProvider{
		Config:  cfg,
		SignKey: []byte(jwtSecret + ":" + localLinkAudience),
		Now:     time.Now,
	}
}

func (p *LocalStorageProvider) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *LocalStorageProvider) filePath(key string) string {
	return filepath.Join(p.Config.LocalPath, filepath.FromSlash(path.Clean("/"+key)))
}

func (p *LocalStorageProvider) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	dst := p.filePath(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	return copyAndClose(out, reader)
}

// copyAndClose 写入后关闭，写入成功时返回关闭错误
func copyAndClose(dst io.WriteCloser, src io.Reader) error {
	_, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	return err
}

func (p *LocalStorageProvider) URLFor(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if _, err := os.Stat(p.filePath(key)); err != nil {
		return "", err
	}

	clean := path.Clean("/" + key)
	now := p.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   clean,
		Audience:  jwt.ClaimStrings{localLinkAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
	})
	sig, err := token.SignedString(p.SignKey)
	if err != nil {
		return "", err
	}
	return "/exports" + clean + "?sig=" + url.QueryEscape(sig), nil
}

// Resolve 校验下载签名，返回本地文件路径
func (p *LocalStorageProvider) Resolve(key, sig string) (string, error) {
	if sig == "" {
		return "", ErrInvalidDownloadLink
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(localLinkAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	var claims jwt.RegisteredClaims
	_, err := parser.ParseWithClaims(sig, &claims, func(token *jwt.Token) (interface{}, error) {
		return p.SignKey, nil
	})
	if err != nil || claims.Subject != path.Clean("/"+key) {
		return "", ErrInvalidDownloadLink
	}
	return p.filePath(key), nil
}

// MinioStorageProvider MinIO存储实现
type MinioStorageProvider struct {
	Config *config.StorageConfig
	Client *minio.Client
}

func NewMinioStorageProvider(cfg *config.StorageConfig) (*MinioStorageProvider, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessID, cfg.MinioSecret, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, err
	}
	return &MinioStorageProvider{Config: cfg, Client: client}, nil
}

// EnsureBucket 桶不存在时创建
func (p *MinioStorageProvider) EnsureBucket(ctx context.Context) error {
	exists, err := p.Client.BucketExists(ctx, p.Config.MinioBucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return p.Client.MakeBucket(ctx, p.Config.MinioBucket, minio.MakeBucketOptions{})
}

func (p *MinioStorageProvider) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	_, err := p.Client.PutObject(ctx, p.Config.MinioBucket, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

func (p *MinioStorageProvider) URLFor(ctx context.Context, key string, expiry time.Duration) (string, error) {
	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", path.Base(key)))
	u, err := p.Client.PresignedGetObject(ctx, p.Config.MinioBucket, key, expiry, params)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// OSSStorageProvider 阿里云OSS存储实现
type OSSStorageProvider struct {
	Config *config.StorageConfig
	Client *oss.Client
}

func NewOSSStorageProvider(cfg *config.StorageConfig) (*OSSStorageProvider, error) {
	client, err := oss.New(cfg.OSSEndpoint, cfg.OSSAccessKey, cfg.OSSSecretKey)
	if err != nil {
		return nil, err
	}
	return &OSSStorageProvider{Config: cfg, Client: client}, nil
}

func (p *OSSStorageProvider) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	bucket, err := p.Client.Bucket(p.Config.OSSBucket)
	if err != nil {
		return err
	}
	return bucket.PutObject(key, reader, oss.ContentType(contentType))
}

func (p *OSSStorageProvider) URLFor(ctx context.Context, key string, expiry time.Duration) (string, error) {
	bucket, err := p.Client.Bucket(p.Config.OSSBucket)
	if err != nil {
		return "", err
	}
	return bucket.SignURL(key, oss.HTTPGet, int64(expiry/time.Second))
}

// StorageService 存储服务
type StorageService struct {
	Provider  StorageProvider
	URLExpiry time.Duration
}

func NewStorageService(cfg *config.Config) *StorageService {
	var provider StorageProvider
	switch cfg.Storage.Type {
	case util.StorageMinio:
		p, err := NewMinioStorageProvider(&cfg.Storage)
		if err == nil {
			if err = p.EnsureBucket(context.Background()); err == nil {
				provider = p
			}
		}
		if err != nil {
			logger.Log.Error("minio storage unavailable, falling back to local", zap.Error(err))
		}
	case util.StorageOSS:
		p, err := NewOSSStorageProvider(&cfg.Storage)
		if err != nil {
			logger.Log.Error("oss storage unavailable, falling back to local", zap.Error(err))
		} else {
			provider = p
		}
	}

	if provider == nil {
		provider = NewLocalStorageProvider(&cfg.Storage, cfg.JWT.Secret)
	}

	expiry := cfg.Export.URLExpiry
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &StorageService{Provider: provider, URLExpiry: expiry}
}

// Local 实际使用本地存储时返回其实现，对象存储不可用而回退时也是本地
func (s *StorageService) Local() *LocalStorageProvider {
	local, _ := s.Provider.(*LocalStorageProvider)
	return local
}

func (s *StorageService) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	return s.Provider.Upload(ctx, key, reader, size, contentType)
}

func (s *StorageService) URLFor(ctx context.Context, key string) (string, error) {
	return s.Provider.URLFor(ctx, key, s.URLExpiry)
}
