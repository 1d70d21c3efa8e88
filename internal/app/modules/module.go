// Package modules contains the dependency modules assembled by the
// composition root. Wiring is manual: each module builds its services from
// the shared Infrastructure and contributes them to the HTTP server and the
// River worker registry.
package modules

import (
	"context"

	"github.com/riverqueue/river"

	"datahub.migas.id/clearinghouse/internal/api/handlers"
)

// Module represents a domain-specific dependency unit in the composition root.
type Module interface {
	// Name returns a stable module identifier for logging.
	Name() string

	// RegisterWorkers registers module workers into a shared River worker registry.
	RegisterWorkers(*river.Workers)

	// Shutdown performs module-local graceful cleanup.
	Shutdown(context.Context) error
}

// ServerDepsContributor is implemented by modules that own HTTP dependencies.
type ServerDepsContributor interface {
	ContributeServerDeps(*handlers.ServerDeps)
}
