package seal

import (
	"errors"
	"net/http"
)

// Error kinds mirroring SealProtocolError{kind} from the error handling
// design: SignatureMismatch | ThresholdNotMet | DecryptionFailed |
// CertificateExpired | AlreadyLoaded | NotInitialized.
var (
	ErrSignatureMismatch  = errors.New("seal: server signature mismatch")
	ErrThresholdNotMet    = errors.New("seal: threshold not met")
	ErrDecryptionFailed   = errors.New("seal: decryption failed")
	ErrCertificateExpired = errors.New("seal: certificate expired")
	ErrAlreadyLoaded      = errors.New("seal: already loaded")
	ErrNotInitialized     = errors.New("seal: not initialized")
)

// StatusFor maps a Service error to the HTTP status the host-only
// bootstrap handler should return. The admin must redo step 1 or step
// 3 depending on which kind comes back, per SPEC_FULL.md §7, so every
// one of the six kinds is reported as 409 to signal "redo a step of the
// protocol", not "the server is broken". Any other error returns false.
func StatusFor(err error) (int, bool) {
	switch {
	case errors.Is(err, ErrNotInitialized):
		return http.StatusConflict, true
	case errors.Is(err, ErrAlreadyLoaded):
		return http.StatusConflict, true
	case errors.Is(err, ErrSignatureMismatch),
		errors.Is(err, ErrThresholdNotMet),
		errors.Is(err, ErrDecryptionFailed),
		errors.Is(err, ErrCertificateExpired):
		return http.StatusConflict, true
	default:
		return 0, false
	}
}
