package service

import (
	"fmt"

	"github.com/boddenberg/property-dashboard-sync-go/internal/domain"
)

// ============================================================
// Notification policy
// ============================================================

// PlanChangeNotice decides, from an old/new permission snapshot pair,
// whether a plan-change toast is warranted.
//
// The diff is skipped on the very first population (no old value) and
// runs only on silent refreshes: a user who just submitted a change
// already gets feedback from that action's own path.
func PlanChangeNotice(old, updated *domain.PermissionSnapshot, silent bool) (domain.Notice, bool) {
	if !silent || old == nil || updated == nil {
		return domain.Notice{}, false
	}
	if old.PlanName == updated.PlanName {
		return domain.Notice{}, false
	}
	return domain.Notice{
		Level:   domain.NoticeSuccess,
		Message: fmt.Sprintf("Your organization's plan has been updated to %s!", updated.PlanName),
	}, true
}

// PermissionsUpdatedNotice is the unconditional informational toast for a
// permission push event scoped to this session. Unlike PlanChangeNotice
// it does not depend on any diff: receipt of the event is the trigger.
func PermissionsUpdatedNotice() domain.Notice {
	return domain.Notice{
		Level:   domain.NoticeInfo,
		Message: "Your permissions were updated — refreshing…",
	}
}

// RefreshFailedNotice is shown only for non-silent refresh failures.
func RefreshFailedNotice() domain.Notice {
	return domain.Notice{
		Level:   domain.NoticeError,
		Message: "Couldn't refresh your account data. Please try again.",
	}
}
