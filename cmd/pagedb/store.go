package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hupe1980/pagedb"
	"github.com/hupe1980/pagedb/blobstore"
	minioblob "github.com/hupe1980/pagedb/blobstore/minio"
	s3blob "github.com/hupe1980/pagedb/blobstore/s3"
)

// storeURL is a parsed PAGEDB_STORE_URL.
//
//	file:///var/lib/pagedb/blobs
//	minio://localhost:9000/bucket/prefix?secure=false&part_size=16777216
//	s3://bucket/prefix?region=eu-central-1&endpoint=http://localhost:4566&path_style=true
type storeURL struct {
	Scheme string
	Host   string
	Bucket string
	Prefix string

	Secure    bool
	PartSize  uint64
	Region    string
	Endpoint  string
	PathStyle bool
}

func parseStoreURL(raw string) (storeURL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return storeURL{}, fmt.Errorf("invalid store url %q: %w", raw, err)
	}
	q := u.Query()
	s := storeURL{Scheme: u.Scheme}

	switch u.Scheme {
	case "file":
		if u.Path == "" {
			return storeURL{}, fmt.Errorf("invalid store url %q: missing path", raw)
		}
		s.Prefix = filepath.FromSlash(u.Path)
		return s, nil
	case "minio":
		s.Host = u.Host
		s.Bucket, s.Prefix, _ = strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
		s.Secure = true
		if v := q.Get("secure"); v != "" {
			if s.Secure, err = strconv.ParseBool(v); err != nil {
				return storeURL{}, fmt.Errorf("invalid store url %q: secure: %w", raw, err)
			}
		}
		if v := q.Get("part_size"); v != "" {
			if s.PartSize, err = strconv.ParseUint(v, 10, 64); err != nil {
				return storeURL{}, fmt.Errorf("invalid store url %q: part_size: %w", raw, err)
			}
		}
	case "s3":
		s.Bucket = u.Host
		s.Prefix = strings.TrimPrefix(u.Path, "/")
		s.Region = q.Get("region")
		s.Endpoint = q.Get("endpoint")
		if v := q.Get("path_style"); v != "" {
			if s.PathStyle, err = strconv.ParseBool(v); err != nil {
				return storeURL{}, fmt.Errorf("invalid store url %q: path_style: %w", raw, err)
			}
		}
	default:
		return storeURL{}, fmt.Errorf("invalid store url %q: unsupported scheme %q", raw, u.Scheme)
	}

	if s.Bucket == "" {
		return storeURL{}, fmt.Errorf("invalid store url %q: missing bucket", raw)
	}
	s.Prefix = strings.TrimSuffix(s.Prefix, "/")
	return s, nil
}

// remoteOptions builds the blob store and commit log options selected by cfg.
func remoteOptions(ctx context.Context, cfg pagedb.Config) ([]pagedb.Option, error) {
	if cfg.StoreURL == "" {
		return nil, pagedb.ErrNoStore
	}
	s, err := parseStoreURL(cfg.StoreURL)
	if err != nil {
		return nil, err
	}

	switch s.Scheme {
	case "file":
		if cfg.CommitTable != "" {
			return nil, errors.New("PAGEDB_COMMIT_TABLE requires an s3:// store")
		}
		return []pagedb.Option{pagedb.WithStore(blobstore.NewLocalStore(s.Prefix))}, nil

	case "minio":
		if cfg.CommitTable != "" {
			return nil, errors.New("PAGEDB_COMMIT_TABLE requires an s3:// store")
		}
		client, err := minio.New(s.Host, &minio.Options{
			Creds:  credentials.NewEnvMinio(),
			Secure: s.Secure,
		})
		if err != nil {
			return nil, fmt.Errorf("minio client: %w", err)
		}
		return []pagedb.Option{pagedb.WithStore(minioblob.NewStore(client, s.Bucket, s.Prefix, minioblob.WithPartSize(s.PartSize)))}, nil

	default:
		var loadOpts []func(*config.LoadOptions) error
		if s.Region != "" {
			loadOpts = append(loadOpts, config.WithRegion(s.Region))
		}
		awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}

		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if s.Endpoint != "" {
				o.BaseEndpoint = aws.String(s.Endpoint)
			}
			o.UsePathStyle = s.PathStyle
		})
		opts := []pagedb.Option{pagedb.WithStore(s3blob.NewStore(client, s.Bucket, s.Prefix))}

		if cfg.CommitTable != "" {
			ddb := dynamodb.NewFromConfig(awsCfg)
			base := "s3://" + s.Bucket
			if s.Prefix != "" {
				base += "/" + s.Prefix
			}
			opts = append(opts, pagedb.WithCommitLog(s3blob.NewDDBCommitLog(ddb, cfg.CommitTable, base)))
		}
		return opts, nil
	}
}
