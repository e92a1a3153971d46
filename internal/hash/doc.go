// Package hash holds the CRC32-Castagnoli helpers shared by image trailers
// and blob uploads.
//
// An image trailer stores CRC32C over the header bytes; S3 uploads send the
// same polynomial as a base64 checksum so the store can reject damaged parts:
//
//	sum := hash.CRC32C(header)
//	h := hash.NewCRC32C()
//	_, _ = h.Write(chunk)
//	header := hash.Base64CRC32C(h.Sum32())
//
// CRC32C detects accidental corruption. It is not a defence against tampering.
package hash
