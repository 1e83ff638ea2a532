package identity

// Capability keys used across the helpdesk modules.
const (
	CapTicketCreate      = "ticket.create"
	CapTicketViewOwn     = "ticket.view.own"
	CapTicketViewAll     = "ticket.view.all"
	CapTicketComment     = "ticket.comment"
	CapTicketUpdate      = "ticket.update"
	CapTicketAssignSelf  = "ticket.assign.self"
	CapTicketAssign      = "ticket.assign"
	CapKBView            = "kb.view"
	CapKBManage          = "kb.manage"
	CapProfileEdit       = "profile.edit"
	CapReportViewOwn     = "report.view.own"
	CapReportViewAll     = "report.view.all"
	CapUserManageEndUser = "user.manage.enduser"
	CapUserManageAll     = "user.manage.all"
	CapBroadcast         = "notification.broadcast"
	CapSettingsManage    = "settings.manage"
	CapBackupRun         = "backup.run"
	CapExportRun         = "export.run"
)

var endUserCaps = []string{
	CapTicketCreate,
	CapTicketViewOwn,
	CapTicketComment,
	CapKBView,
	CapProfileEdit,
}

var technicianCaps = append(append([]string{}, endUserCaps...),
	CapTicketUpdate,
	CapTicketAssignSelf,
	CapReportViewOwn,
)

var adminSecondaryCaps = append(append([]string{}, technicianCaps...),
	CapTicketViewAll,
	CapTicketAssign,
	CapUserManageEndUser,
	CapKBManage,
	CapReportViewAll,
	CapBroadcast,
)

var adminPrimaryCaps = append(append([]string{}, adminSecondaryCaps...),
	CapUserManageAll,
	CapSettingsManage,
	CapBackupRun,
	CapExportRun,
)

var roleCapabilities = map[RoleTag][]string{
	RoleEndUser:        endUserCaps,
	RoleTechnician:     technicianCaps,
	RoleAdminSecondary: adminSecondaryCaps,
	RoleAdminPrimary:   adminPrimaryCaps,
}

// Capabilities derives the ordered base capability set for a role. The result
// is a copy; it is never persisted.
func Capabilities(role RoleTag) []string {
	base, ok := roleCapabilities[role]
	if !ok {
		return nil
	}
	out := make([]string, len(base))
	copy(out, base)
	return out
}

// CapabilitiesWith unions the role's base set with an identity's extra grants,
// preserving base order and deduplicating.
func CapabilitiesWith(role RoleTag, extra []string) []string {
	out := Capabilities(role)
	seen := make(map[string]struct{}, len(out)+len(extra))
	for _, c := range out {
		seen[c] = struct{}{}
	}
	for _, c := range extra {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// HasCapability reports whether the capability is in the derived set.
func HasCapability(role RoleTag, extra []string, capability string) bool {
	for _, c := range CapabilitiesWith(role, extra) {
		if c == capability {
			return true
		}
	}
	return false
}
