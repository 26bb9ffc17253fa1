// Package publish implements the upload stage. Encoded artifacts land in the
// local library directory (atomic rename, file:// reference) or in the
// configured S3 bucket (s3://bucket/key reference), grouped by owner.
package publish
