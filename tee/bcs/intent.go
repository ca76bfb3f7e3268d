package bcs

// IntentMessage is the canonical signed object: an application-assigned
// domain-separation byte, the enclave wall-clock timestamp sampled at
// signing time, and the application-defined payload, in that order.
type IntentMessage struct {
	Intent      byte
	TimestampMs uint64
	Payload     Marshaler
}

// MarshalBCS writes intent, then timestamp_ms, then payload, with no
// padding between fields.
func (m IntentMessage) MarshalBCS(w *Writer) error {
	w.WriteByte(m.Intent)
	w.WriteU64(m.TimestampMs)
	if m.Payload == nil {
		return nil
	}
	return m.Payload.MarshalBCS(w)
}

// EncodeIntentMessage is a convenience wrapper around Encode for the
// common case of signing/verifying an IntentMessage.
func EncodeIntentMessage(intent byte, timestampMs uint64, payload Marshaler) ([]byte, error) {
	return Encode(IntentMessage{Intent: intent, TimestampMs: timestampMs, Payload: payload})
}
