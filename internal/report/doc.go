// Package report renders analysis results and writes the export bundle.
//
// Writers render a model.AnalysisResult to an io.Writer:
//   - SimpleWriter: plain text summary, also stored as summary.txt
//   - JSONWriter: the analysis document consumed by the upload backend
//   - MarkdownWriter: a shareable summary with a driver origin chart
//
// WriteBundle packs every rendering together with per-section JSON files
// into a single ZIP archive, and ValidateBundle applies the checks the
// backend performs on upload.
package report
