// Package modules enumerates the kernel's loaded modules from a dump.
//
// Walk follows the PsLoadedModuleList chain of KLDR_DATA_TABLE_ENTRY
// records through a vmem.Translator. Names are bounded UNICODE_STRING
// reads. When an image is resident in the dump its PE headers supply a
// link timestamp, and its version resource supplies the file version and
// company name.
package modules
