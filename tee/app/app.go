// Package app defines the generic application trait the signing service
// is compiled against: an enclave binary links exactly one concrete
// Application implementation, chosen at build time by which package
// under tee/app/* the cmd/enclave binary imports. There is no runtime
// dispatch between applications, because the enclave's own measurement
// (PCR2) already commits to exactly one.
package app

import (
	"context"
	"errors"

	"github.com/nitrosign/enclave-signer/tee/bcs"
	"github.com/nitrosign/enclave-signer/tee/secrets"
)

// ErrUpstream wraps an application-specific failure from Process. The
// signing service surfaces its message verbatim in the JSON error body.
var ErrUpstream = errors.New("app: upstream error")

// ErrBadRequest wraps an input-validation failure Process detects only
// after decoding (e.g. a well-formed JSON body with an empty required
// field). The signing service maps it to 400, same as a decode error.
var ErrBadRequest = errors.New("app: bad request")

// Application is the trait every compiled-in application satisfies.
// In is decoded from the client's JSON request body; Out is the value
// that gets BCS-encoded and signed. Process must not block longer than
// the caller's context allows, and must return ErrUpstream-wrapped
// errors for failures that originate in the application's own logic
// (as opposed to malformed input, which the signing service rejects
// before Process is ever called).
type Application[In any, Out bcs.Marshaler] interface {
	// Intent is the domain-separation byte bound into every signature
	// this application produces.
	Intent() byte

	// Process computes Out from In, with read access to the secrets
	// store populated by the Seal bootstrap.
	Process(ctx context.Context, input In, store *secrets.Store) (Out, error)
}
