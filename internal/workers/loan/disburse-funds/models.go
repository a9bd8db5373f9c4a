// internal/workers/loan/disburse-funds/models.go
package disbursefunds

type Input struct {
	ApplicationID string `json:"applicationId"`
}
