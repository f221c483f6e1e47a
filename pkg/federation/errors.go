package federation

import (
	"fmt"

	"github.com/marmos91/artifactgrid/pkg/artifact"
)

// errFederation wraps index failures in the coordinator taxonomy so
// callers can branch on artifact.ErrFederation.
func errFederation(cause error, format string, args ...any) *artifact.Error {
	return &artifact.Error{
		Kind:    artifact.KindFederationError,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}
