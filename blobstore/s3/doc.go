// Package s3 provides an S3 implementation of blobstore.Store and a
// DynamoDB-backed blobstore.CommitLog.
//
// # Usage
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	store := s3.NewStore(awss3.NewFromConfig(cfg), "my-bucket", "designs/")
//	commits := s3.NewDDBCommitLog(dynamodb.NewFromConfig(cfg), "pagedb-commits", "s3://my-bucket/designs")
//
// # Features
//
//   - Range reads for partial fetches
//   - Multipart uploads through the S3 transfer manager
//   - CRC32C checksums on uploads
//   - Automatic pagination for listing
package s3
