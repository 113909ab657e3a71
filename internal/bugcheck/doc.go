// Package bugcheck interprets Windows stop codes.
//
// Analyze is a pure function over static tables: the same code and
// parameters always produce the same BugcheckAnalysis. Codes missing from
// the tables fall into the unknown category with a generic description.
package bugcheck
