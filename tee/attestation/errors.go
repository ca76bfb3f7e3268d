package attestation

import "errors"

// ErrAttestationFailed is returned when the NSM device is present but
// rejects or cannot service an attestation request.
var ErrAttestationFailed = errors.New("attestation failed")
