package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/boddenberg/property-dashboard-sync-go/internal/domain"
	"github.com/boddenberg/property-dashboard-sync-go/internal/service"

	"go.uber.org/zap"
)

// ============================================================
// Session & Sync Handlers
// ============================================================

// sessionResponse is the combined session view, one poll for everything
// a screen needs to render its chrome.
type sessionResponse struct {
	State          service.SessionState       `json:"state"`
	User           *domain.AccountUser        `json:"user,omitempty"`
	OrganizationID string                     `json:"organization_id,omitempty"`
	PlanName       string                     `json:"plan_name,omitempty"`
	Status         *domain.StatusSnapshot     `json:"status,omitempty"`
	Permissions    *domain.PermissionSnapshot `json:"permissions,omitempty"`
	Dashboard      *domain.DashboardSummary   `json:"dashboard,omitempty"`
	Banner         domain.Banner              `json:"banner"`
}

func getSessionHandler(coord *service.Coordinator, guard *service.SessionGuard, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "GET /session")
		defer span.End()

		resp := sessionResponse{
			State:  guard.State(),
			Banner: coord.Banner(),
		}
		if resp.State == service.SessionAuthenticated {
			resp.OrganizationID = guard.OrganizationID()
			resp.Status = coord.Status()
			resp.Permissions = coord.Permissions()
			resp.Dashboard = coord.Dashboard()
			if info := coord.Account(); info != nil {
				user := info.User
				resp.User = &user
				resp.PlanName = info.Customer.Plan.Name
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getBannerHandler(coord *service.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, coord.Banner())
	}
}

func getPermissionsHandler(coord *service.Coordinator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		perms := coord.Permissions()
		if perms == nil {
			handleServiceError(w, &domain.ErrNotFound{Resource: "permissions", ID: "current"}, logger)
			return
		}
		writeJSON(w, http.StatusOK, perms)
	}
}

func getNoticesHandler(notices *service.NoticeQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"notices": notices.Drain(),
		})
	}
}

type refreshRequestBody struct {
	Resource string `json:"resource"`
}

// refreshHandler is the manual, user-visible refresh trigger. An empty or
// "all" resource refreshes everything the initial mount does.
func refreshHandler(coord *service.Coordinator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /session/refresh")
		defer span.End()

		var body refreshRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			handleServiceError(w, &domain.ErrValidation{Field: "body", Message: "invalid JSON"}, logger)
			return
		}

		switch body.Resource {
		case "", "all":
			if err := coord.InitialSync(ctx); err != nil {
				handleServiceError(w, err, logger)
				return
			}
		case string(domain.ResourceSubscription), string(domain.ResourceAccount), string(domain.ResourceDashboard):
			err := coord.RequestRefresh(ctx, domain.RefreshRequest{
				Resource: domain.ResourceKey(body.Resource),
				Reason:   domain.ReasonManual,
			})
			if err != nil {
				handleServiceError(w, err, logger)
				return
			}
		default:
			handleServiceError(w, &domain.ErrValidation{
				Field: "resource", Message: "must be subscription, account, dashboard or all",
			}, logger)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
	}
}

// focusHandler is the tab-regained-visibility trigger. Fire and forget.
func focusHandler(coord *service.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		coord.OnFocus()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
	}
}

func logoutHandler(guard *service.SessionGuard, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "POST /session/logout")
		defer span.End()

		guard.ForceLogout("You have been signed out.")
		logger.Info("logout requested", zap.String("subject", SubjectFromContext(r.Context())))
		w.WriteHeader(http.StatusNoContent)
	}
}
