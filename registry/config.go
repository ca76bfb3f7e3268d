package registry

import (
	"bytes"
	"sync"

	"github.com/google/uuid"
)

// EnclaveConfig is a shared, mutex-guarded object: the PCR policy and
// version pin for one application. Reads never require a capability;
// every write does. App separates configs belonging to different
// compiled-in applications at the type level (spec §9's phantom type
// parameter), the same way Cap[App] does.
type EnclaveConfig[App comparable] struct {
	mu sync.RWMutex

	id           string
	name         string
	pcr0         []byte
	pcr1         []byte
	pcr2         []byte
	capabilityID string
	version      uint64
}

// CreateEnclaveConfig mints a new config at version 0, bound to cap.
func CreateEnclaveConfig[App comparable](cap Cap[App], name string, pcr0, pcr1, pcr2 []byte) *EnclaveConfig[App] {
	return &EnclaveConfig[App]{
		id:           uuid.NewString(),
		name:         name,
		pcr0:         append([]byte(nil), pcr0...),
		pcr1:         append([]byte(nil), pcr1...),
		pcr2:         append([]byte(nil), pcr2...),
		capabilityID: cap.id,
		version:      0,
	}
}

// ID returns the config's identifier.
func (c *EnclaveConfig[App]) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// Name returns the config's current human-readable name.
func (c *EnclaveConfig[App]) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// Version returns the config's current monotonic version.
func (c *EnclaveConfig[App]) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// PCRs returns a defensive copy of the current pinned PCR triple.
func (c *EnclaveConfig[App]) PCRs() (pcr0, pcr1, pcr2 []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]byte(nil), c.pcr0...), append([]byte(nil), c.pcr1...), append([]byte(nil), c.pcr2...)
}

// UpdatePCRs requires cap and bumps version by 1 (spec §4.H, invariant
// 6: version monotonicity).
func (c *EnclaveConfig[App]) UpdatePCRs(cap Cap[App], pcr0, pcr1, pcr2 []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cap.id != c.capabilityID {
		return ErrInvalidCap
	}
	c.pcr0 = append([]byte(nil), pcr0...)
	c.pcr1 = append([]byte(nil), pcr1...)
	c.pcr2 = append([]byte(nil), pcr2...)
	c.version++
	return nil
}

// UpdateName requires cap and leaves version unchanged.
func (c *EnclaveConfig[App]) UpdateName(cap Cap[App], name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cap.id != c.capabilityID {
		return ErrInvalidCap
	}
	c.name = name
	return nil
}

// matchesPCRs reports whether the given triple equals the config's
// current pinned PCRs, used by RegisterEnclave's gate.
func (c *EnclaveConfig[App]) matchesPCRs(pcr0, pcr1, pcr2 []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return bytes.Equal(c.pcr0, pcr0) && bytes.Equal(c.pcr1, pcr1) && bytes.Equal(c.pcr2, pcr2)
}
