package authn

import (
	"strings"

	"github.com/nikodwicahyo/helpdesk/internal/identity"
)

// principalChannelKinds are channel prefixes scoped to a single principal.
// The channel name carries the owner's NIP as its final segment.
var principalChannelKinds = map[string]struct{}{
	"notifications.user":       {},
	"notifications.technician": {},
}

// roleChannels is the static allow-list for role-scoped broadcast channels.
var roleChannels = map[string][]identity.RoleTag{
	"broadcast.announcements": {
		identity.RoleAdminPrimary,
		identity.RoleAdminSecondary,
		identity.RoleTechnician,
		identity.RoleEndUser,
	},
	"broadcast.technicians": {
		identity.RoleAdminPrimary,
		identity.RoleAdminSecondary,
		identity.RoleTechnician,
	},
	"broadcast.admins": {
		identity.RoleAdminPrimary,
		identity.RoleAdminSecondary,
	},
}

// CanAccessChannel resolves a named notification channel's ownership rule.
// Principal-scoped channels ("<kind>.<principalID>") require an exact NIP
// match; role-scoped channels consult the static allow-list.
func CanAccessChannel(p Principal, role identity.RoleTag, channel string) bool {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return false
	}

	if idx := strings.LastIndex(channel, "."); idx > 0 {
		kind, owner := channel[:idx], channel[idx+1:]
		if _, ok := principalChannelKinds[kind]; ok {
			return owner != "" && owner == p.Identity.NIP
		}
	}

	allowed, ok := roleChannels[channel]
	if !ok {
		return false
	}
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}
