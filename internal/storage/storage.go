// Package storage abstracts the S3-compatible object store that holds
// generated artifacts.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the object does not exist.
var ErrNotFound = errors.New("storage: object not found")

// DefaultPresignTTL bounds how long a download link stays valid when
// the caller does not pick a TTL.
const DefaultPresignTTL = 15 * time.Minute

// Content types per artifact kind.
const (
	ContentTypeDXF  = "application/dxf"
	ContentTypeText = "text/plain; charset=utf-8"
	ContentTypeZip  = "application/zip"
)

// Store is the artifact store surface the pipeline writes through.
type Store interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Object keys are structured per artifact kind so the bucket stays
// browsable by prefix.

func DXFKey(jobID string) string { return "dxf/" + jobID + ".dxf" }

func GCodeKey(jobID string) string { return "gcode/" + jobID + ".gcode" }

func ZipKey(jobID string) string { return "zip/" + jobID + ".zip" }

func DrillingZipKey(jobID string) string { return "drilling/" + jobID + ".zip" }

// DrillingNCKey holds the "single" output format, one concatenated
// program instead of an archive.
func DrillingNCKey(jobID string) string { return "drilling/" + jobID + ".nc" }
