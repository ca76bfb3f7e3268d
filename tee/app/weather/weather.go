// Package weather is the demo Application compiled into cmd/enclave by
// default: it looks up a location's temperature using the secret API
// key installed by the Seal bootstrap.
package weather

import (
	"context"
	"fmt"

	"github.com/nitrosign/enclave-signer/tee/app"
	"github.com/nitrosign/enclave-signer/tee/bcs"
	"github.com/nitrosign/enclave-signer/tee/secrets"
)

// Intent is the domain-separation byte for this application's signed
// responses.
const Intent byte = 0

// Request is the client-supplied input, decoded from the process_data
// JSON body.
type Request struct {
	Location string `json:"location"`
}

// Response mirrors the worked BCS example: a length-prefixed location
// string followed by a signed 64-bit temperature.
type Response struct {
	Location    string `json:"location"`
	Temperature int64  `json:"temperature"`
}

// MarshalBCS writes Location then Temperature, in declaration order.
func (r Response) MarshalBCS(w *bcs.Writer) error {
	w.WriteString(r.Location)
	w.WriteI64(r.Temperature)
	return nil
}

// Lookup resolves a location to a temperature. Production deployments
// would call a forecast provider over the host's outbound proxy using
// the API_KEY secret; this implementation is deterministic so the
// enclave is testable without network access.
type Lookup func(ctx context.Context, location, apiKey string) (int64, error)

// App implements app.Application[Request, Response].
type App struct {
	lookup Lookup
}

// New returns an App using lookup to resolve temperatures. Pass nil to
// use a built-in deterministic stand-in.
func New(lookup Lookup) *App {
	if lookup == nil {
		lookup = deterministicLookup
	}
	return &App{lookup: lookup}
}

// Intent satisfies app.Application.
func (a *App) Intent() byte { return Intent }

// Process satisfies app.Application: it reads API_KEY from the secrets
// store and delegates to the configured Lookup.
func (a *App) Process(ctx context.Context, input Request, store *secrets.Store) (Response, error) {
	if input.Location == "" {
		return Response{}, fmt.Errorf("%w: location is required", app.ErrBadRequest)
	}

	apiKey, err := store.Read("API_KEY")
	if err != nil {
		return Response{}, err
	}

	temp, err := a.lookup(ctx, input.Location, string(apiKey))
	if err != nil {
		return Response{}, fmt.Errorf("%w: weather lookup %q: %v", app.ErrUpstream, input.Location, err)
	}

	return Response{Location: input.Location, Temperature: temp}, nil
}

// deterministicLookup derives a stable pseudo-temperature from the
// location name so tests and demos do not depend on network access.
func deterministicLookup(_ context.Context, location, _ string) (int64, error) {
	var sum int64
	for _, r := range location {
		sum += int64(r)
	}
	return (sum % 60) - 10, nil
}
