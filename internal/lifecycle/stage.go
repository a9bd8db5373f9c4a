package lifecycle

import "fmt"

// Stage is one step of the loan lifecycle. Each stage is correlated with a
// pending orchestrator task through a configured stage key.
type Stage string

const (
	StageReview               Stage = "review"
	StageCreditCheck          Stage = "credit-check"
	StageRiskAssessment       Stage = "risk-assessment"
	StageApproval             Stage = "approval"
	StageAgreementPreparation Stage = "agreement-preparation"
	StageAgreementSigning     Stage = "agreement-signing"
	StageDisbursement         Stage = "disbursement"
	StageRejection            Stage = "rejection"
)

// Stages lists every stage in forward lifecycle order, rejection last.
var Stages = []Stage{
	StageReview,
	StageCreditCheck,
	StageRiskAssessment,
	StageApproval,
	StageAgreementPreparation,
	StageAgreementSigning,
	StageDisbursement,
	StageRejection,
}

func (s Stage) String() string { return string(s) }

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	for _, st := range Stages {
		if st == s {
			return true
		}
	}
	return false
}

// StageKeys maps each stage to the external identifier the orchestrator
// reports for its pending task. Matching is by exact equality.
type StageKeys map[Stage]string

// DefaultStageKeys are the element ids used by the loan-application process.
func DefaultStageKeys() StageKeys {
	return StageKeys{
		StageReview:               "loan-review",
		StageCreditCheck:          "loan-credit-check",
		StageRiskAssessment:       "assess-loan-risk",
		StageApproval:             "loan-approval",
		StageAgreementPreparation: "loan-agreement-preparation",
		StageAgreementSigning:     "loan-agreement-signing",
		StageDisbursement:         "disburse-loan-funds",
		StageRejection:            "notify-loan-rejection",
	}
}

// Key returns the stage key configured for s.
func (k StageKeys) Key(s Stage) (string, error) {
	key, ok := k[s]
	if !ok || key == "" {
		return "", fmt.Errorf("no stage key configured for stage %q", s)
	}
	return key, nil
}

// StageFor resolves a stage key back to its stage.
func (k StageKeys) StageFor(key string) (Stage, bool) {
	for st, v := range k {
		if v == key {
			return st, true
		}
	}
	return "", false
}

// Validate requires a distinct key for every known stage.
func (k StageKeys) Validate() error {
	seen := make(map[string]Stage, len(k))
	for _, st := range Stages {
		key, err := k.Key(st)
		if err != nil {
			return err
		}
		if other, dup := seen[key]; dup {
			return fmt.Errorf("stage key %q used by both %q and %q", key, other, st)
		}
		seen[key] = st
	}
	return nil
}
