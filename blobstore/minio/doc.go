// Package minio stores published container triads in a MinIO bucket, or in
// any other S3-compatible service the MinIO client can reach (Ceph, Garage,
// SeaweedFS).
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewEnvMinio(),
//	    Secure: false,
//	})
//	if err != nil {
//	    return err
//	}
//	store := minioblob.NewStore(client, "designs", "team-a/", minioblob.WithPartSize(16<<20))
//	db, err := pagedb.Open(dir, pagedb.WithStore(store))
//
// Images are streamed through Create, so large .db files are uploaded in
// multipart chunks without being buffered. Commits use the store's
// CURRENT blob; the package has no conditional-write commit log.
package minio
