// Package objectstore wraps the AWS SDK S3 client for the download and
// upload stages.
//
// It works against AWS and S3-compatible servers such as MinIO (custom
// endpoint plus path-style addressing) and classifies SDK failures onto the
// services error markers so the pipeline retries only what can succeed later.
package objectstore
