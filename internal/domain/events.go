package domain

// ============================================================
// Push channel events
// ============================================================

// PushEventType discriminates inbound push messages.
type PushEventType string

const (
	EventPermissionsUpdated PushEventType = "permissions-updated"
	EventPaymentUpdated     PushEventType = "payment-updated"
	EventForcedLogout       PushEventType = "permissions-forced-logout"
)

// PushEvent is one message from the persistent channel. Events are
// cache-invalidation signals only: any permission payload embedded in the
// event is ignored and the source of truth is re-read instead.
type PushEvent struct {
	Type           PushEventType  `json:"type"`
	OrganizationID string         `json:"organization_id,omitempty"`
	Message        string         `json:"message,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
}

// ============================================================
// User-facing notices (toasts)
// ============================================================

// NoticeLevel is the toast severity shown by the view layer.
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice is one pending toast for the view layer. ID is assigned at
// enqueue time so clients can dedupe across polls.
type Notice struct {
	ID      string      `json:"id,omitempty"`
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
}
