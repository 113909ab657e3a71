package bugcheck

import (
	"fmt"

	"github.com/nao1215/dumpscan/internal/dump"
)

var descriptions = map[uint32]string{
	0x1A:  "The memory manager has detected a memory corruption issue.",
	0x1E:  "A kernel-mode program generated an exception that wasn't caught.",
	0x50:  "The system tried to access invalid memory (page fault).",
	0x7E:  "A system thread generated an exception that wasn't handled.",
	0x7F:  "The CPU generated an unexpected trap (processor exception).",
	0x9F:  "A driver is in an inconsistent or invalid power state.",
	0xA0:  "The power policy manager experienced a fatal error.",
	0xD1:  "A driver accessed paged memory at an improper IRQL level.",
	0xEF:  "A critical system process died unexpectedly.",
	0x116: "The display driver failed to respond in the allowed time.",
	0x139: "The kernel detected security violations (buffer overflow/stack corruption).",
	0x154: "An unexpected store exception occurred.",
	0xC2:  "A caller with pool responsibility passed bad parameters.",
	0xC4:  "Driver Verifier detected a driver violation.",
	0xFC:  "Attempt to execute non-executable memory.",
}

var likelyCauses = map[uint32][]string{
	0x1A: {
		"Faulty RAM or memory hardware",
		"Corrupted memory due to driver bug",
		"Overclocked memory causing instability",
		"Damaged system files",
	},
	0x1E: {
		"Incompatible or buggy driver",
		"Faulty hardware",
		"Software conflict",
	},
	0x50: {
		"Faulty driver accessing invalid memory",
		"Defective RAM",
		"Antivirus software conflict",
		"Corrupted system files",
	},
	0x7E: {
		"System thread generated an unhandled exception",
		"Driver compatibility issue",
		"Corrupted system files",
	},
	0x7F: {
		"Hardware failure (memory, CPU)",
		"Kernel stack overflow",
		"Driver bug",
	},
	0x9F: {
		"Driver failed to complete a power IRP",
		"Incompatible power management driver",
		"Hardware device not responding",
	},
	0xD1: {
		"Driver accessing pageable memory at high IRQL",
		"Driver bug (most common)",
		"Faulty driver installation",
	},
	0xEF: {
		"Critical system process terminated unexpectedly",
		"Corrupted system files",
		"Failed system update",
		"Hardware failure",
	},
	0x116: {
		"Graphics driver failed to respond",
		"Overheating GPU",
		"Outdated graphics drivers",
		"Faulty graphics card",
	},
	0x139: {
		"Buffer overflow detected in kernel",
		"Stack corruption",
		"Malware or security compromise",
	},
}

var defaultCauses = []string{
	"Driver compatibility issue",
	"Hardware malfunction",
	"Corrupted system files",
}

var recommendations = map[uint32][]string{
	0x1A: {
		"Run Windows Memory Diagnostic (mdsched.exe)",
		"Check for driver updates",
		"Run System File Checker (sfc /scannow)",
		"Check for overclocking and reset to defaults",
	},
	0x50: {
		"Run Windows Memory Diagnostic",
		"Update all drivers especially graphics and storage",
		"Temporarily disable antivirus to test",
		"Run chkdsk to check disk health",
	},
	0xD1: {
		"Update the driver mentioned in the crash",
		"Use Driver Verifier to identify problematic driver",
		"Roll back recent driver updates",
	},
	0xEF: {
		"Run System File Checker (sfc /scannow)",
		"Run DISM /Online /Cleanup-Image /RestoreHealth",
		"Check disk health with chkdsk",
		"Consider system restore to earlier point",
	},
	0x116: {
		"Update graphics drivers",
		"Check GPU temperature and cooling",
		"Reduce graphics settings in games/apps",
		"Clean GPU and improve ventilation",
	},
	0x139: {
		"Scan for malware with Windows Defender",
		"Run System File Checker",
		"Update Windows to latest version",
	},
}

var defaultRecommendations = []string{
	"Update all drivers to latest versions",
	"Run System File Checker (sfc /scannow)",
	"Check Windows Event Viewer for more details",
	"Run Windows Memory Diagnostic",
}

// paramDescriptions is indexed by code, then by parameter number - 1.
var paramDescriptions = map[uint32][4]string{
	0x1A: {
		"Memory management subtype code",
		"Address that caused the problem",
		"PFN of the corrupted page (if applicable)",
		"Reserved / Additional context",
	},
	0x1E: {
		"Exception code (NTSTATUS)",
		"Address where exception occurred",
		"First exception parameter",
		"Second exception parameter",
	},
	0x50: {
		"Address referenced causing the fault",
		"0 = read, 1 = write, 2 = execute, 8 = execute",
		"Address that referenced the bad memory",
		"Type of read: 0 = read, 2 = execute",
	},
	0x7E: {
		"Exception code (NTSTATUS)",
		"Address where exception occurred",
		"Exception record address",
		"Context record address",
	},
	0x7F: {
		"Trap number (x86/x64 processor exception)",
		"Reserved",
		"Reserved",
		"Reserved",
	},
	0x9F: {
		"Subtype of power failure",
		"Address of the device object",
		"Address of the driver object",
		"Reserved (depends on subtype)",
	},
	0xA0: {
		"Subtype of internal power error",
		"Additional info (subtype-dependent)",
		"Additional info (subtype-dependent)",
		"Additional info (subtype-dependent)",
	},
	0xD1: {
		"Memory address referenced",
		"IRQL at time of reference",
		"0 = read, 1 = write",
		"Address of instruction that referenced memory",
	},
	0xEF: {
		"Process object address",
		"If 0 = process terminated, if 1 = thread terminated",
		"Reserved",
		"Reserved",
	},
	0x116: {
		"Pointer to internal TDR recovery context",
		"Pointer to responsible device driver module",
		"Error code of last failed operation",
		"Internal context dependent data",
	},
	0x139: {
		"Security cookie failure type",
		"Address of trap frame / exception record",
		"Address of context record",
		"Reserved",
	},
	0x1CA: {
		"Timeout count",
		"Process object (if applicable)",
		"Thread object (if applicable)",
		"Additional context",
	},
	0x154: {
		"Exception record address",
		"Context record address",
		"Exception code",
		"Reserved",
	},
	0xC2: {
		"Type of pool corruption",
		"Depends on parameter 1",
		"Depends on parameter 1",
		"Depends on parameter 1",
	},
	0xC4: {
		"Subtype of driver verifier violation",
		"Address of driver with the violation",
		"Violation-specific parameter",
		"Violation-specific parameter",
	},
	0xFC: {
		"Address being executed",
		"PTE contents",
		"Reserved",
		"Reserved",
	},
}

var memoryManagementSubtypes = map[uint64]string{
	0x00041284: "A page that should have been filled with zeros was not.",
	0x00041285: "A PTE has been corrupted.",
	0x00041286: "A page table page has been corrupted.",
	0x00041287: "A PFN list head has been corrupted.",
	0x00041790: "The page frame number list is corrupt.",
	0x00041792: "A PTE or the PFN is corrupted.",
	0x00041793: "A page table has been corrupted.",
	0x00041794: "An illegal PFN was used.",
	0x00061940: "An allocation that should have been pageable was not.",
	0x00061941: "A free happened on bad pool.",
	0x00061946: "A corrupted page table was detected.",
}

var trapNumbers = map[uint64]string{
	0x00: "Divide Error",
	0x01: "Debug Exception",
	0x02: "NMI Interrupt",
	0x03: "Breakpoint",
	0x04: "Overflow",
	0x05: "Bound Range Exceeded",
	0x06: "Invalid Opcode",
	0x07: "Device Not Available (No Math Coprocessor)",
	0x08: "Double Fault",
	0x09: "Coprocessor Segment Overrun",
	0x0A: "Invalid TSS",
	0x0B: "Segment Not Present",
	0x0C: "Stack Segment Fault",
	0x0D: "General Protection Fault",
	0x0E: "Page Fault",
	0x10: "x87 Floating-Point Error",
	0x11: "Alignment Check",
	0x12: "Machine Check",
	0x13: "SIMD Floating-Point Exception",
}

var powerFailureSubtypes = map[uint64]string{
	0x1: "The device object is being freed while it still has a pending power request.",
	0x2: "The device object completed the system power IRP without calling PoStartNextPowerIrp.",
	0x3: "A device object has been blocking a power IRP for too long.",
	0x4: "The power state transition timed out waiting to synchronize with the PnP subsystem.",
}

var pageFaultAccess = map[uint64]string{
	0: "Read operation",
	1: "Write operation",
	2: "Execute operation",
	8: "Execute operation",
}

var irqlAccess = map[uint64]string{
	0: "Read operation",
	1: "Write operation",
}

// interpret decodes well-known parameter values. n is 1-based.
func interpret(code uint32, n int, v uint64) string {
	switch {
	case code == 0x1A && n == 1:
		return memoryManagementSubtypes[v]
	case code == 0x1E && n == 1:
		if v <= 0xFFFFFFFF {
			if name, ok := dump.ExceptionName(uint32(v)); ok {
				return name
			}
		}
	case code == 0x7F && n == 1:
		return trapNumbers[v]
	case code == 0x9F && n == 1:
		return powerFailureSubtypes[v]
	case code == 0x50 && n == 2:
		return pageFaultAccess[v]
	case code == 0xD1 && n == 3:
		return irqlAccess[v]
	}
	return ""
}

func paramDescription(code uint32, n int) string {
	if d, ok := paramDescriptions[code]; ok {
		return d[n-1]
	}
	return fmt.Sprintf("Bugcheck parameter %d", n)
}
