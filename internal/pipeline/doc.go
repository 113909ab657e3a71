// Package pipeline runs the extraction of a single dump file as an ordered
// list of steps.
//
// Each run owns a Session that moves through a fixed sequence of states:
// header read, bugcheck analyzed, context read, modules walked, exported.
// A fatal error from any step moves the session to Failed and stops the
// pipeline. Conditions that only degrade the result are recorded as parser
// notes and the run continues.
//
// Extractor wires the default steps to a dump file. BatchProcessor runs
// independent extractions concurrently using errgroup.
package pipeline
