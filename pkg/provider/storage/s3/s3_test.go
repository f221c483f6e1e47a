package s3

import (
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"

	"github.com/marmos91/artifactgrid/pkg/provider/storage"
)

type statusErr struct{ code int }

func (e statusErr) Error() string       { return "http error" }
func (e statusErr) HTTPStatusCode() int { return e.code }

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError(nil))

	err := mapError(&types.NoSuchKey{})
	assert.ErrorIs(t, err, storage.ErrNoSuchKey)

	err = mapError(&types.NotFound{})
	assert.ErrorIs(t, err, storage.ErrNoSuchKey)

	err = mapError(&types.NoSuchBucket{})
	assert.ErrorIs(t, err, storage.ErrNoSuchBucket)

	err = mapError(&types.NoSuchUpload{})
	assert.ErrorIs(t, err, storage.ErrNoSuchUpload)

	err = mapError(statusErr{code: 404})
	assert.ErrorIs(t, err, storage.ErrNoSuchKey)

	err = mapError(statusErr{code: 403})
	assert.ErrorIs(t, err, storage.ErrAccessDenied)

	plain := errors.New("throttled")
	assert.Equal(t, plain, mapError(plain))
}

func TestNewRequiresClientAndBucket(t *testing.T) {
	_, err := New(t.Context(), Config{})
	assert.Error(t, err)
}
