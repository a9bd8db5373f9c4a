// internal/workers/loan/assess-risk/models.go
package assessrisk

type Input struct {
	ApplicationID string `json:"applicationId"`
}
