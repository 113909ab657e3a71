// Package main provides the entry point for the dumpscan CLI.
//
// dumpscan extracts diagnostic data from Windows kernel crash dumps
// (MEMORY.DMP, minidumps and live kernel dumps) and packs it into a ZIP
// bundle that can be shared without sharing the dump itself.
//
// Usage:
//
//	dumpscan analyze <dump-file>...
//	dumpscan verify <bundle.zip>
//	dumpscan history --list
//
// See --help for all available options.
package main

// main is the entry point for dumpscan.
func main() {
	Execute()
}
