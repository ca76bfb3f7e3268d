package secrets

import (
	"encoding/json"
	"fmt"
)

// Bundle is the wire format for the host's one-shot secrets push over
// tee/bridge's secrets port: a flat name -> value map, values taken
// as-is (no further encoding) so a plain API key string round-trips
// without escaping surprises.
type Bundle map[string]string

// EncodeBundle serializes a Bundle for PushSecrets.
func EncodeBundle(b Bundle) ([]byte, error) {
	payload, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("secrets: encode bundle: %w", err)
	}
	return payload, nil
}

// Populate decodes a Bundle produced by EncodeBundle and writes every
// entry into store. Called once at enclave boot after ReceiveSecrets
// returns. Fails closed: any decode error or any individual Write
// failure (e.g. a duplicate push) aborts without installing a partial
// set of secrets.
func Populate(store *Store, payload []byte) error {
	var b Bundle
	if err := json.Unmarshal(payload, &b); err != nil {
		return fmt.Errorf("secrets: decode bundle: %w", err)
	}
	for name := range b {
		if store.Has(name) {
			return fmt.Errorf("secrets: write %q: %w", name, ErrAlreadyWritten)
		}
	}
	for name, value := range b {
		if err := store.Write(name, []byte(value)); err != nil {
			return fmt.Errorf("secrets: write %q: %w", name, err)
		}
	}
	return nil
}
