package identity

import (
	"go.uber.org/fx"
)

// Module provides the identity API client dependencies
var Module = fx.Module("identity",
	fx.Provide(
		NewClient,
	),
)
