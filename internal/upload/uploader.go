// Package upload mirrors kept segment files to an S3-compatible bucket.
package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

type Config struct {
	Bucket          string
	Prefix          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// PutObjectAPI is the part of the S3 client the uploader needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Reporter counts upload outcomes. *observe.Metrics satisfies it.
type Reporter interface {
	UploadResult(ctx context.Context, status string)
}

// NewClient creates an S3 client with static credentials. A custom endpoint
// switches to path-style addressing for MinIO/R2 style services.
func NewClient(cfg Config) *s3.Client {
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
			o.Region = region
		},
	}
	if cfg.Endpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return s3.New(s3.Options{}, options...)
}

const (
	DefaultQueueSize = 32
	DefaultAttempts  = 3
	DefaultDrain     = 30 * time.Second
	uploadTimeout    = 5 * time.Minute
)

type Options struct {
	QueueSize    int
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// DrainTimeout bounds the uploads still queued when Run is cancelled.
	DrainTimeout time.Duration
	Reporter     Reporter
	Logger       zerolog.Logger
}

// Uploader queues saved files and uploads them from a single worker.
type Uploader struct {
	client   PutObjectAPI
	bucket   string
	prefix   string
	queue    chan string
	attempts int
	initial  time.Duration
	maxDelay time.Duration
	drain    time.Duration
	results  Reporter
	log      zerolog.Logger
}

func New(client PutObjectAPI, cfg Config, opts Options) *Uploader {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = 2 * time.Second
	}
	if opts.MaxDelay < opts.InitialDelay {
		opts.MaxDelay = 30 * time.Second
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrain
	}
	return &Uploader{
		client:   client,
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		queue:    make(chan string, opts.QueueSize),
		attempts: opts.Attempts,
		initial:  opts.InitialDelay,
		maxDelay: opts.MaxDelay,
		drain:    opts.DrainTimeout,
		results:  opts.Reporter,
		log:      opts.Logger,
	}
}

// Enqueue adds a file without blocking. It returns false when the queue is full.
func (u *Uploader) Enqueue(p string) bool {
	select {
	case u.queue <- p:
		u.log.Debug().Str("file", filepath.Base(p)).Msg("Queued file for upload")
		return true
	default:
		return false
	}
}

// Run uploads queued files until ctx is cancelled, then works off what is
// still queued for at most the drain timeout.
func (u *Uploader) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			u.flush()
			return nil
		case p := <-u.queue:
			if ctx.Err() != nil {
				u.flush(p)
				return nil
			}
			u.process(ctx, p)
		}
	}
}

func (u *Uploader) flush(taken ...string) {
	ctx, cancel := context.WithTimeout(context.Background(), u.drain)
	defer cancel()
	for _, p := range taken {
		u.process(ctx, p)
	}
	for {
		select {
		case p := <-u.queue:
			if ctx.Err() != nil {
				u.log.Warn().Int("pending", len(u.queue)+1).Msg("Uploader stopped with files still queued")
				return
			}
			u.process(ctx, p)
		default:
			return
		}
	}
}

// Key returns the object key for a local file.
func (u *Uploader) Key(p string) string {
	if u.prefix == "" {
		return filepath.Base(p)
	}
	return path.Join(u.prefix, filepath.Base(p))
}

func (u *Uploader) process(ctx context.Context, p string) {
	b := newBackoff(u.initial, u.maxDelay)
	var err error
	for attempt := 1; attempt <= u.attempts; attempt++ {
		if err = u.put(ctx, p); err == nil {
			u.log.Info().Str("key", u.Key(p)).Int("attempt", attempt).Msg("Upload completed")
			u.report(ctx, "ok")
			return
		}
		if errors.Is(err, os.ErrNotExist) || attempt == u.attempts {
			break
		}

		delay := b.next()
		u.log.Warn().Err(err).Str("key", u.Key(p)).Dur("retry_in", delay).Msg("Upload failed, retrying")
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	u.log.Error().Err(err).Str("key", u.Key(p)).Msg("Upload failed")
	u.report(ctx, "failed")
}

func (u *Uploader) put(ctx context.Context, p string) error {
	f, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("open for upload: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat for upload: %w", err)
	}

	ctx, cancel := context.WithTimeoutCause(ctx, uploadTimeout, errors.New("s3 upload timeout"))
	defer cancel()

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(u.Key(p)),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("audio/wav"),
	})
	return err
}

func (u *Uploader) report(ctx context.Context, status string) {
	if u.results != nil {
		u.results.UploadResult(ctx, status)
	}
}
