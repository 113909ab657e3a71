// Package dump reads Windows kernel crash-dump files.
//
// The package never loads a dump into memory. A Reader issues bounded,
// positioned reads (each capped at MaxReadSize), and the parsers decode the
// fixed-offset structures they need from the blocks they fetch:
//   - ParseHeader: the PAGEDU64/PAGEDUMP header and its physical memory runs
//   - ReadContext: the CPU register snapshot referenced by the header
//   - ReadException: the exception record referenced by the header
//
// Every failure is an *Error carrying an ErrorKind. InvalidFormat,
// CorruptHeader and IOError abort an extraction; TranslationFailed and
// PartialModuleList are raised by the address translator and the module
// walker and end up as parser notes.
package dump
