package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/hupe1980/numindex/backup"
	"github.com/hupe1980/numindex/blobstore"
	minioblob "github.com/hupe1980/numindex/blobstore/minio"
	s3blob "github.com/hupe1980/numindex/blobstore/s3"
	"github.com/hupe1980/numindex/iolimit"
	"github.com/spf13/cobra"
)

func setupStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String("store", "", wrapString("Backup destination: a directory, file:///dir, s3://bucket/prefix or minio://host:port/bucket/prefix"))
	cmd.Flags().String("name", "", wrapString("Backup name. Defaults to the index file name"))
	cmd.Flags().String("s3-region", "", wrapString("AWS region override for s3:// stores"))
	cmd.Flags().String("s3-endpoint", "", wrapString("S3-compatible endpoint for s3:// stores"))
	cmd.Flags().String("ddb-table", "", wrapString("DynamoDB table used as backup catalog for s3:// stores. Without it a LATEST blob is used"))
	cmd.Flags().String("minio-access-key", "", wrapString("Access key for minio:// stores"))
	cmd.Flags().String("minio-secret-key", "", wrapString("Secret key for minio:// stores"))
	cmd.Flags().Bool("minio-secure", true, wrapString("Use TLS for minio:// stores"))
}

// openStore resolves the --store location and the catalog that goes with it.
func (a *app) openStore(ctx context.Context) (blobstore.Store, blobstore.Catalog, error) {
	loc := a.v.GetString("store")
	if loc == "" {
		return nil, nil, errors.New("--store is required")
	}
	if !strings.Contains(loc, "://") {
		return blobstore.NewLocalStore(loc), nil, nil
	}

	u, err := url.Parse(loc)
	if err != nil {
		return nil, nil, err
	}
	prefix := strings.TrimPrefix(u.Path, "/")

	switch u.Scheme {
	case "file":
		return blobstore.NewLocalStore(u.Path), nil, nil
	case "s3":
		store, err := s3blob.New(ctx, u.Host,
			s3blob.WithPrefix(prefix),
			s3blob.WithRegion(a.v.GetString("s3-region")),
			s3blob.WithEndpoint(a.v.GetString("s3-endpoint")),
		)
		if err != nil {
			return nil, nil, err
		}
		table := a.v.GetString("ddb-table")
		if table == "" {
			return store, nil, nil
		}
		var loadOpts []func(*config.LoadOptions) error
		if region := a.v.GetString("s3-region"); region != "" {
			loadOpts = append(loadOpts, config.WithRegion(region))
		}
		cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, nil, err
		}
		return store, s3blob.NewDDBCatalog(dynamodb.NewFromConfig(cfg), table), nil
	case "minio":
		bucket, prefix, _ := strings.Cut(prefix, "/")
		if bucket == "" {
			return nil, nil, fmt.Errorf("minio store needs a bucket: %s", loc)
		}
		store, err := minioblob.New(u.Host,
			a.v.GetString("minio-access-key"),
			a.v.GetString("minio-secret-key"),
			a.v.GetBool("minio-secure"),
			bucket, prefix,
		)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store scheme %q", u.Scheme)
	}
}

func backupName(a *app, path string) string {
	if name := a.v.GetString("name"); name != "" {
		return name
	}
	return strings.TrimSuffix(filepath.Base(path), ".idx")
}

func newBackupCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup [path]",
		Short: "Copy a checkpointed index file into a blob store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			store, catalog, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			logger, err := a.logger()
			if err != nil {
				return err
			}

			ix, err := a.open(args[0], false)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, ix.close()) }()

			res, err := backup.Run(ctx, ix, store, backup.Options{
				Name:    backupName(a, args[0]),
				Catalog: catalog,
				Logger:  logger.Logger,
				Limiter: iolimit.New(iolimit.Config{BytesPerSec: a.v.GetInt64("rate")}),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "backup %s version %d: %d files, %d bytes\n",
				res.ManifestBlob, res.Version, len(res.Manifest.Files), res.Manifest.TotalSize())
			return nil
		},
	}
	setupStoreFlags(cmd)
	cmd.Flags().Int64("rate", 0, wrapString("Upload rate limit in compressed bytes per second. 0 means unlimited"))
	return cmd
}

func newRestoreCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore [dir]",
		Short: "Restore the latest backup into a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := a.v.GetString("name")
			if name == "" {
				return errors.New("--name is required")
			}
			store, catalog, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			m, err := backup.Restore(ctx, store, catalog, name, args[0])
			if err != nil {
				return err
			}
			for _, f := range m.Files {
				fmt.Fprintf(cmd.OutOrStdout(), "restored %s (%d bytes)\n", f.Name, f.Size)
			}
			return nil
		},
	}
	setupStoreFlags(cmd)
	return cmd
}
