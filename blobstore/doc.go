// Package blobstore provides remote storage for published container triads.
//
// Store is the interface for reading and writing immutable blobs.
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local file system, blobs are memory mapped on open
//   - MemoryStore: in-process map, for tests
//   - minio.Store: MinIO and other S3-compatible servers
//   - s3.Store: Amazon S3 with range reads and multipart uploads
//
// # Commits
//
// A published triad becomes visible by committing its generation to a
// CommitLog. BlobCommitLog keeps the pointer in a CURRENT blob next to the
// generations; s3.DDBCommitLog uses DynamoDB conditional writes so that
// concurrent publishers cannot both win.
package blobstore
