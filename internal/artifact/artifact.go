// Package artifact defines the typed outputs stages attach to beads.
package artifact

import (
	"github.com/steveyegge/swarm/internal/stage"
)

// Type classifies a stage artifact. The wire names are stored in
// stage_artifacts and surfaced by the artifacts command.
type Type string

const (
	ContractDocument    Type = "contract_document"
	Requirements        Type = "requirements"
	SystemContext       Type = "system_context"
	Invariants          Type = "invariants"
	DataFlow            Type = "data_flow"
	ImplementationPlan  Type = "implementation_plan"
	AcceptanceCriteria  Type = "acceptance_criteria"
	ErrorHandling       Type = "error_handling"
	TestScenarios       Type = "test_scenarios"
	ValidationGates     Type = "validation_gates"
	SuccessMetrics      Type = "success_metrics"
	ImplementationCode  Type = "implementation_code"
	ModifiedFiles       Type = "modified_files"
	ImplementationNotes Type = "implementation_notes"
	TestOutput          Type = "test_output"
	TestResults         Type = "test_results"
	CoverageReport      Type = "coverage_report"
	ValidationReport    Type = "validation_report"
	FailureDetails      Type = "failure_details"
	AdversarialReport   Type = "adversarial_report"
	RegressionReport    Type = "regression_report"
	QualityGateReport   Type = "quality_gate_report"
	StageLog            Type = "stage_log"
	RetryPacketType     Type = "retry_packet"
	SkillInvocation     Type = "skill_invocation"
	ErrorMessage        Type = "error_message"
	Feedback            Type = "feedback"
)

// All lists every artifact type in declaration order.
func All() []Type {
	return []Type{
		ContractDocument, Requirements, SystemContext, Invariants,
		DataFlow, ImplementationPlan, AcceptanceCriteria, ErrorHandling,
		TestScenarios, ValidationGates, SuccessMetrics, ImplementationCode,
		ModifiedFiles, ImplementationNotes, TestOutput, TestResults,
		CoverageReport, ValidationReport, FailureDetails, AdversarialReport,
		RegressionReport, QualityGateReport, StageLog, RetryPacketType,
		SkillInvocation, ErrorMessage, Feedback,
	}
}

// Valid reports whether t names a known artifact type.
func Valid(t Type) bool {
	for _, known := range All() {
		if known == t {
			return true
		}
	}
	return false
}

// Primary returns the artifact type a stage run produces as its main
// output. The contract and implementation stages produce their document
// pass or fail; the verification stages report test output or failure
// details on one side and a gate report or adversarial findings on the
// other.
func Primary(st stage.Stage, success bool) Type {
	switch st {
	case stage.RustContract:
		return ContractDocument
	case stage.Implement:
		return ImplementationCode
	case stage.QaEnforcer:
		if success {
			return TestOutput
		}
		return FailureDetails
	case stage.RedQueen:
		if success {
			return QualityGateReport
		}
		return AdversarialReport
	default:
		return StageLog
	}
}
