package authn

import "github.com/nikodwicahyo/helpdesk/internal/identity"

// Actor is the closed set of things that can appear in an audit trail: an
// authenticated identity or a named system component. The sealed method keeps
// the variant closed so consumers switch on type instead of duck-typing field
// presence.
type Actor interface {
	actor()
	// Label is the audit-facing identifier of the actor.
	Label() string
}

// UserActor is a human (or their session) acting through the auth core.
type UserActor struct {
	Identity identity.Identity
}

func (UserActor) actor() {}

func (a UserActor) Label() string { return string(a.Identity.Kind) + ":" + a.Identity.NIP }

// SystemActor stands in when no authenticated principal is available, e.g.
// background sweeps and startup tasks.
type SystemActor struct {
	Component string
}

func (SystemActor) actor() {}

func (a SystemActor) Label() string { return "system:" + a.Component }
