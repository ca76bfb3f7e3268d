package registry

import "github.com/google/uuid"

// Cap is the unforgeable admin capability for one application's
// registry objects, standing in for a one-time-witness mint (spec
// §4.H's `Cap<T>`). App is a phantom type parameter: two Cap[AppA] and
// Cap[AppB] values are different Go types even if AppA and AppB are
// both empty structs, so a capability for one application's config can
// never type-check against another's.
//
// The zero value is not a valid capability: id is unexported, so the
// only way to obtain one is NewCap, which mints a fresh uuid every
// call. Possession of a Cap[App] is the only authorization check this
// package performs on writes.
type Cap[App comparable] struct {
	id string
}

// NewCap mints a fresh capability for App. Call once per application
// at boot and hold onto it; there is no way to derive it again.
func NewCap[App comparable]() Cap[App] {
	return Cap[App]{id: uuid.NewString()}
}
