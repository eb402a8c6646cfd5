package auth

// Capability is a named, enumerable permission unit.
type Capability string

const (
	CapDepthChartEdit      Capability = "depth_chart_edit"
	CapPlayerAssign        Capability = "player_assign"
	CapTeamManagement      Capability = "team_management"
	CapScheduleManage      Capability = "schedule_manage"
	CapReportExport        Capability = "report_export"
	CapSystemProfileDelete Capability = "system_profile_delete"
	CapSystemProfileReset  Capability = "system_profile_reset"
)

// AllCapabilities lists every grantable capability.
var AllCapabilities = []Capability{
	CapDepthChartEdit,
	CapPlayerAssign,
	CapTeamManagement,
	CapScheduleManage,
	CapReportExport,
	CapSystemProfileDelete,
	CapSystemProfileReset,
}

// headCoachDenied holds the destructive system-profile operations the
// head_coach role bypass does not cover. super_admin ignores this set.
var headCoachDenied = map[Capability]struct{}{
	CapSystemProfileDelete: {},
	CapSystemProfileReset:  {},
}

// KnownCapability reports whether the capability is part of the fixed set.
func KnownCapability(c Capability) bool {
	for _, known := range AllCapabilities {
		if c == known {
			return true
		}
	}
	return false
}
