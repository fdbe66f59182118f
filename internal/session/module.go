package session

import (
	"github.com/parcelview/parcelview-client/internal/identity"
	"go.uber.org/fx"
)

// Module provides the session state machine dependencies
var Module = fx.Module("session",
	fx.Provide(
		func(client *identity.Client) API { return client },
		NewManager,
	),
)
