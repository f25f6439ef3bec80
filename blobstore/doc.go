// Package blobstore provides the storage abstraction backups are written to.
//
// Store is the interface for reading and writing blobs (compressed index
// files, manifests). Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem, atomic via rename
//   - MemoryStore: in-memory, for tests
//   - s3.Store: Amazon S3 with range reads and multipart uploads
//   - minio.Store: any S3-compatible endpoint through the MinIO client
//
// # Catalogs
//
// A Catalog records the latest committed manifest per backup name.
// BlobCatalog keeps a LATEST pointer next to the backups in a Store;
// s3.DDBCatalog uses DynamoDB conditional writes so concurrent committers
// cannot lose each other's updates.
package blobstore
