// Package telemetry provides OpenTelemetry span helpers for artifactgrid.
//
// Only the trace API is used here: the library creates spans against the
// globally registered tracer provider, so an embedding application decides
// whether (and where) traces are exported. Without an SDK installed every
// helper is a no-op.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/marmos91/artifactgrid"

// Common attribute keys.
const (
	AttrArtifactID  = "artifact.id"
	AttrNamespaceID = "namespace.id"
	AttrSessionID   = "session.id"
	AttrSandboxID   = "sandbox.id"
	AttrScope       = "artifact.scope"
	AttrBucket      = "storage.bucket"
	AttrKey         = "storage.key"
	AttrProvider    = "storage.provider"
	AttrBytes       = "storage.bytes"
	AttrUploadID    = "storage.upload_id"
	AttrPartNumber  = "storage.part_number"
)

// Tracer returns the tracer for this library.
func Tracer() trace.Tracer {
	return otel.GetTracerProvider().Tracer(tracerName)
}

// StartSpan starts a span with the given name and options.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartStoreSpan starts a span for an ArtifactStore operation.
func StartStoreSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, "artifact."+operation, trace.WithAttributes(attrs...))
}

// StartProviderSpan starts a span for a storage provider operation.
func StartProviderSpan(ctx context.Context, provider, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{Provider(provider)}, attrs...)
	return StartSpan(ctx, "provider."+operation, trace.WithAttributes(all...))
}

// RecordError records an error on the span in ctx and marks it failed.
// Safe to call with a nil error.
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// ArtifactID returns an attribute for an artifact identifier.
func ArtifactID(id string) attribute.KeyValue {
	return attribute.String(AttrArtifactID, id)
}

// NamespaceID returns an attribute for a namespace identifier.
func NamespaceID(id string) attribute.KeyValue {
	return attribute.String(AttrNamespaceID, id)
}

// SessionID returns an attribute for a session identifier.
func SessionID(id string) attribute.KeyValue {
	return attribute.String(AttrSessionID, id)
}

// SandboxID returns an attribute for a sandbox identifier.
func SandboxID(id string) attribute.KeyValue {
	return attribute.String(AttrSandboxID, id)
}

// Scope returns an attribute for an artifact scope.
func Scope(s string) attribute.KeyValue {
	return attribute.String(AttrScope, s)
}

// Bucket returns an attribute for a bucket name.
func Bucket(name string) attribute.KeyValue {
	return attribute.String(AttrBucket, name)
}

// StorageKey returns an attribute for an object key.
func StorageKey(key string) attribute.KeyValue {
	return attribute.String(AttrKey, key)
}

// Provider returns an attribute for a provider name.
func Provider(name string) attribute.KeyValue {
	return attribute.String(AttrProvider, name)
}

// ByteCount returns an attribute for a payload size.
func ByteCount(n int64) attribute.KeyValue {
	return attribute.Int64(AttrBytes, n)
}

// UploadID returns an attribute for a multipart upload identifier.
func UploadID(id string) attribute.KeyValue {
	return attribute.String(AttrUploadID, id)
}

// PartNumber returns an attribute for a multipart part number.
func PartNumber(n int32) attribute.KeyValue {
	return attribute.Int(AttrPartNumber, int(n))
}
