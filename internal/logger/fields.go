package logger

import "log/slog"

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so logs can be
// aggregated and queried by field.
const (
	KeyArtifactID  = "artifact_id"  // Artifact identifier
	KeyNamespaceID = "namespace_id" // Namespace identifier
	KeySessionID   = "session_id"   // Session identifier
	KeySandboxID   = "sandbox_id"   // Sandbox (tenant) identifier
	KeyUserID      = "user_id"      // User identifier
	KeyScope       = "scope"        // Artifact scope: session, user, sandbox
	KeyKey         = "key"          // Grid key / object key
	KeyBucket      = "bucket"       // Bucket (or root directory) name
	KeyProvider    = "provider"     // Provider name: memory, filesystem, s3, ...
	KeyUploadID    = "upload_id"    // Multipart upload identifier
	KeyPartNumber  = "part_number"  // Multipart part number
	KeyCheckpoint  = "checkpoint"   // Checkpoint identifier
	KeyOperation   = "operation"    // Operation name: store, retrieve, delete, ...
	KeyBytes       = "bytes"        // Payload size in bytes
	KeyMime        = "mime"         // MIME type
	KeyTTL         = "ttl_seconds"  // Record TTL in seconds
	KeyAttempt     = "attempt"      // Retry attempt number
	KeyMaxRetries  = "max_retries"  // Maximum retry attempts
	KeyDurationMs  = "duration_ms"  // Operation duration in milliseconds
	KeyError       = "error"        // Error message
)

// ArtifactID returns a slog.Attr for an artifact identifier.
func ArtifactID(id string) slog.Attr {
	return slog.String(KeyArtifactID, id)
}

// NamespaceID returns a slog.Attr for a namespace identifier.
func NamespaceID(id string) slog.Attr {
	return slog.String(KeyNamespaceID, id)
}

// SessionID returns a slog.Attr for a session identifier.
func SessionID(id string) slog.Attr {
	return slog.String(KeySessionID, id)
}

// SandboxID returns a slog.Attr for a sandbox identifier.
func SandboxID(id string) slog.Attr {
	return slog.String(KeySandboxID, id)
}

// UserID returns a slog.Attr for a user identifier.
func UserID(id string) slog.Attr {
	return slog.String(KeyUserID, id)
}

// Scope returns a slog.Attr for an artifact scope.
func Scope(s string) slog.Attr {
	return slog.String(KeyScope, s)
}

// Key returns a slog.Attr for a grid key.
func Key(k string) slog.Attr {
	return slog.String(KeyKey, k)
}

// Bucket returns a slog.Attr for a bucket name.
func Bucket(name string) slog.Attr {
	return slog.String(KeyBucket, name)
}

// Provider returns a slog.Attr for a provider name.
func Provider(name string) slog.Attr {
	return slog.String(KeyProvider, name)
}

// UploadID returns a slog.Attr for a multipart upload identifier.
func UploadID(id string) slog.Attr {
	return slog.String(KeyUploadID, id)
}

// PartNumber returns a slog.Attr for a multipart part number.
func PartNumber(n int32) slog.Attr {
	return slog.Int(KeyPartNumber, int(n))
}

// Checkpoint returns a slog.Attr for a checkpoint identifier.
func Checkpoint(id string) slog.Attr {
	return slog.String(KeyCheckpoint, id)
}

// Operation returns a slog.Attr for an operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Bytes returns a slog.Attr for a payload size.
func Bytes(n int64) slog.Attr {
	return slog.Int64(KeyBytes, n)
}

// Mime returns a slog.Attr for a MIME type.
func Mime(m string) slog.Attr {
	return slog.String(KeyMime, m)
}

// TTL returns a slog.Attr for a record TTL in seconds.
func TTL(seconds int64) slog.Attr {
	return slog.Int64(KeyTTL, seconds)
}

// Attempt returns a slog.Attr for a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// MaxRetries returns a slog.Attr for maximum retry attempts.
func MaxRetries(n int) slog.Attr {
	return slog.Int(KeyMaxRetries, n)
}

// DurationMs returns a slog.Attr for a duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
