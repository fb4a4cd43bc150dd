// Package core holds the operator workflow for validating and committing
// spreadsheet uploads, independent of any transport or UI.
//
// # Workflow
//
// A [Workflow] walks one operator through a cycle: pick a dataset
// ([Workflow.SelectDataset]) and a file ([Workflow.ChooseFile]), send them to
// the validation service ([Workflow.Validate]), review the report, then either
// commit it ([Workflow.Save]) or start over ([Workflow.Clear]). Validation is
// only allowed while the [Monitor] reports the service ready.
//
// # Reports
//
// A [ValidationReport] is decoded strictly from the service's JSON. Error
// locations are joined against preview rows by [Annotate], which produces the
// capped, per-cell flagged view shown on review. [ValidationReport.IsCellFlagged]
// answers single lookups in constant time.
//
// # Errors
//
// Remote failures are [OperationError] values classified once at the
// transport boundary (missing input, unreachable, timeout, service fault,
// rejected, cancelled). Local rejections are sentinel errors such as
// [ErrNotReady] and [ErrReportInvalid]. [MapError] turns either into a
// [UserMessage] with a support code.
//
// # Services
//
// The workflow reaches the outside world only through [ValidationService],
// [PersistenceService] and [Prober]. Calls are bounded by a shared
// [CallLimiter] and a per-call timeout; nothing is retried automatically.
package core
