// Package model defines the result structures produced by an extraction run.
//
// This package contains the following main types:
//   - AnalysisResult: the root document written to analysis.json
//   - SystemInfo and CrashSummary: facts decoded from the dump header
//   - BugcheckAnalysis: the knowledge-base interpretation of the stop code
//   - StackTrace: register state, exception record and raw frames
//   - DriversInfo: the loaded-module list with classification
//
// The models live in their own package so that the pipeline, report and
// database packages can share them without import cycles. Every type is
// serialized with the snake_case JSON keys the upload backend expects.
package model
