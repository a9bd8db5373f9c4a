// internal/workers/loan/notify-rejection/models.go
package notifyrejection

type Input struct {
	ApplicationID string `json:"applicationId"`
	// RejectionReason is set by the gateway that routed to rejection. When
	// empty the reason stored on the application is used.
	RejectionReason string `json:"rejectionReason"`
}
