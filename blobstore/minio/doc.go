// Package minio provides a blobstore.Store implementation using the MinIO client.
//
// MinIO is an S3-compatible object storage system. This package uses the
// official MinIO Go client, which also works against Ceph, SeaweedFS and
// Garage.
//
// # Basic Usage
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store := minioblob.NewStore(client, "my-bucket", "backups/")
//	_, err = backup.Run(ctx, acc, store, backup.Options{Name: "orders-price"})
//
// New does both steps for static credentials:
//
//	store, err := minioblob.New("localhost:9000", accessKey, secretKey, false, "my-bucket", "backups/")
//
// # Features
//
//   - Works with any S3-compatible storage
//   - Streaming uploads for large index files
//   - Air-gap friendly (no AWS dependencies required)
package minio
