// Package cache defines the blob store responsible for persisting artifact
// bytes under StoragePath/<dir1>/<dir2>/<dir3>/<filename>. Writes are atomic
// for concurrent readers (temp file + rename on disk, single PutObject on S3),
// and reads treat missing or zero-length objects as absent so a partially
// failed earlier write never reaches a client. The proxy coordinator depends
// on this package and on internal/metadata; the two are kept consistent by
// writing the blob first and recording metadata afterwards.
package cache
