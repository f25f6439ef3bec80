// Package s3 provides an S3 implementation of the blobstore.Store interface
// and a DynamoDB backed blobstore.Catalog.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("backups/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	_, err = backup.Run(ctx, acc, store, backup.Options{Name: "orders-price"})
//
// # Features
//
//   - Range reads for efficient partial fetches
//   - Multipart uploads with CRC32C checksums
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
package s3
