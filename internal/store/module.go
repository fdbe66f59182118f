package store

import (
	"go.uber.org/fx"
)

// Module provides the persistence layer dependencies
var Module = fx.Module("store",
	fx.Provide(
		New,
		NewTokenStore,
		NewSessionStore,
	),
)
