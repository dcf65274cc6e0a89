// Package publish uploads materialized variants to an S3-compatible bucket.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"varforge/internal/config"
	"varforge/internal/generator"
	"varforge/internal/logger"
	"varforge/internal/variant"
)

var (
	ErrEndpointRequired = errors.New("publish: endpoint is required")
	ErrBucketRequired   = errors.New("publish: bucket is required")
	ErrNoActiveRun      = errors.New("publish: no active run")
)

// runLayout names the per-run key segment.
const runLayout = "20060102T150405Z"

// Publisher uploads every file of a variant directory under
// <prefix>/<run>/<variant>/. It implements generator.Recorder and
// generator.RunHook.
type Publisher struct {
	client *minio.Client
	bucket string
	region string
	prefix string

	initOnce sync.Once
	initErr  error

	mu  sync.Mutex
	run string
}

var (
	_ generator.Recorder = (*Publisher)(nil)
	_ generator.RunHook  = (*Publisher)(nil)
)

// New builds a publisher from cfg. No request is made until the first
// upload.
func New(cfg config.PublishConfig) (*Publisher, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, ErrEndpointRequired
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, ErrBucketRequired
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	opts := &minio.Options{Secure: cfg.UseSSL, Region: region}
	if access, secret := strings.TrimSpace(cfg.AccessKey), strings.TrimSpace(cfg.SecretKey); access != "" || secret != "" {
		opts.Creds = credentials.NewStaticV4(access, secret, "")
	} else {
		opts.Creds = credentials.NewEnvAWS()
	}
	client, err := minio.New(endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("publish: init s3 client: %w", err)
	}
	return &Publisher{
		client: client,
		bucket: bucket,
		region: region,
		prefix: strings.Trim(strings.TrimSpace(cfg.Prefix), "/"),
	}, nil
}

func (p *Publisher) ensureBucket(ctx context.Context) error {
	p.initOnce.Do(func() {
		exists, err := p.client.BucketExists(ctx, p.bucket)
		if err != nil {
			p.initErr = err
			return
		}
		if exists {
			return
		}
		p.initErr = p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{Region: p.region})
	})
	return p.initErr
}

// BeginRun fixes the run segment of every key uploaded until EndRun.
func (p *Publisher) BeginRun(_ context.Context, s generator.Summary) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.run = s.Started.UTC().Format(runLayout)
	return nil
}

func (p *Publisher) EndRun(context.Context, generator.Summary) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.run = ""
	return nil
}

// Record uploads the variant directory. Statistics-only results have
// nothing on disk and are skipped.
func (p *Publisher) Record(ctx context.Context, r variant.Result) error {
	if r.Mode == variant.ModeStatistics || r.Variant.Dir == "" {
		return nil
	}
	p.mu.Lock()
	run := p.run
	p.mu.Unlock()
	if run == "" {
		return ErrNoActiveRun
	}

	files, err := Files(r.Variant.Dir)
	if err != nil {
		return err
	}
	if err := p.ensureBucket(ctx); err != nil {
		return fmt.Errorf("publish: ensure bucket: %w", err)
	}
	for _, rel := range files {
		key := ObjectKey(p.prefix, run, r.Variant.Name, rel)
		src := filepath.Join(r.Variant.Dir, filepath.FromSlash(rel))
		if _, err := p.client.FPutObject(ctx, p.bucket, key, src, minio.PutObjectOptions{
			ContentType: contentType(rel),
		}); err != nil {
			return fmt.Errorf("publish: put %s: %w", key, err)
		}
	}
	logger.ForComponent("publish").Info("variant published",
		"variant", r.Variant.Name, "bucket", p.bucket, "objects", len(files))
	return nil
}

// ObjectKey joins the key segments with '/', dropping empty ones.
func ObjectKey(prefix, run, variantName, rel string) string {
	var parts []string
	for _, s := range []string{prefix, run, variantName, strings.TrimLeft(rel, "/")} {
		if s = strings.Trim(strings.TrimSpace(s), "/"); s != "" {
			parts = append(parts, s)
		}
	}
	return path.Join(parts...)
}

// Files lists the regular files under dir as sorted slash paths.
func Files(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("publish: list %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

func contentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".jar":
		return "application/java-archive"
	case ".xml":
		return "application/xml"
	case ".mf", ".properties", ".ini", ".info", ".txt":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
