package bugcheck

import (
	"slices"

	"github.com/nao1215/dumpscan/internal/model"
)

var categories = map[uint32]model.Category{
	// Driver
	0x0000000A: model.CategoryDriver,
	0x0000001E: model.CategoryDriver,
	0x0000003B: model.CategoryDriver,
	0x0000007E: model.CategoryDriver,
	0x0000008E: model.CategoryDriver,
	0x0000009F: model.CategoryDriver,
	0x000000BE: model.CategoryDriver,
	0x000000C2: model.CategoryDriver,
	0x000000C4: model.CategoryDriver,
	0x000000C5: model.CategoryDriver,
	0x000000D1: model.CategoryDriver,
	0x000000D8: model.CategoryDriver,
	0x000000EA: model.CategoryDriver,
	0x000000FC: model.CategoryDriver,
	0x000000FE: model.CategoryDriver,
	0x0000011B: model.CategoryDriver,
	0x000001C4: model.CategoryDriver,
	0x000001D5: model.CategoryDriver,

	// Memory
	0x0000001A: model.CategoryMemory,
	0x0000003F: model.CategoryMemory,
	0x00000050: model.CategoryMemory,
	0x0000007A: model.CategoryMemory,
	0x0000013A: model.CategoryMemory,
	0x00000189: model.CategoryMemory,
	0x000001C7: model.CategoryMemory,

	// Hardware
	0x0000002E: model.CategoryHardware,
	0x0000007F: model.CategoryHardware,
	0x0000009C: model.CategoryHardware,
	0x00000101: model.CategoryHardware,
	0x00000124: model.CategoryHardware,
	0x00000133: model.CategoryHardware,
	0x0000015F: model.CategoryHardware,
	0x000001CF: model.CategoryHardware,
	0x000001D0: model.CategoryHardware,
	0x000001DB: model.CategoryHardware,

	// System
	0x00000001: model.CategorySystem,
	0x000000F4: model.CategorySystem,
	0x00000109: model.CategorySystem,
	0x00000139: model.CategorySystem,
	0x00000154: model.CategorySystem,
	0x0000018B: model.CategorySystem,
	0x0000018E: model.CategorySystem,
	0x000001C6: model.CategorySystem,
	0x000001D2: model.CategorySystem,

	// Video
	0x00000116: model.CategoryVideo,
	0x00000119: model.CategoryVideo,
	0x0000011A: model.CategoryVideo,
	0x00000187: model.CategoryVideo,

	// Storage
	0x00000024: model.CategoryStorage,
	0x000000ED: model.CategoryStorage,
}

// CategoryOf returns the category of a stop code.
func CategoryOf(code uint32) model.Category {
	if c, ok := categories[code]; ok {
		return c
	}
	return model.CategoryUnknown
}

// Profile is the analysis guidance attached to a category.
type Profile struct {
	Name         string
	Description  string
	FocusAreas   []string
	KeyQuestions []string
	CommonFixes  []string
}

var profiles = map[model.Category]Profile{
	model.CategoryDriver: {
		Name:        "Driver-Related Crash",
		Description: "Crash caused by a device driver issue, often due to bugs, incompatibility, or corruption.",
		FocusAreas: []string{
			"Identify the specific driver that caused the crash",
			"Check driver version and whether updates are available",
			"Look for patterns indicating driver bugs vs hardware issues",
			"Analyze IRQL levels and improper memory access",
		},
		KeyQuestions: []string{
			"Which driver is directly responsible for this crash?",
			"Is this a known issue with this driver version?",
			"Is the driver accessing memory it shouldn't?",
			"Could this be a driver compatibility issue with the Windows version?",
		},
		CommonFixes: []string{
			"Update the problematic driver to the latest version",
			"Roll back to a previous stable driver version",
			"Disable or uninstall the problematic driver",
			"Run Driver Verifier to identify additional driver issues",
			"Check Windows Update for driver updates",
		},
	},
	model.CategoryMemory: {
		Name:        "Memory-Related Crash",
		Description: "Crash related to RAM, page file, or memory management issues.",
		FocusAreas: []string{
			"Determine if this is a hardware (RAM) or software issue",
			"Check for memory corruption patterns",
			"Analyze page fault context and memory pressure",
			"Look for pool corruption or heap issues",
		},
		KeyQuestions: []string{
			"Is this likely a faulty RAM stick or software bug?",
			"Are there signs of memory corruption?",
			"Is the system under memory pressure?",
			"Could page file configuration be contributing?",
		},
		CommonFixes: []string{
			"Run Windows Memory Diagnostic (mdsched.exe)",
			"Test RAM with MemTest86+",
			"Check and adjust page file settings",
			"Update Windows to latest version for memory management fixes",
			"Check for memory-hungry applications",
		},
	},
	model.CategoryHardware: {
		Name:        "Hardware-Related Crash",
		Description: "Crash indicating possible hardware failure or firmware issues.",
		FocusAreas: []string{
			"Identify the specific hardware component involved",
			"Determine if this is a WHEA (Windows Hardware Error Architecture) event",
			"Check for thermal or power-related issues",
			"Analyze machine check exception details",
		},
		KeyQuestions: []string{
			"Which hardware component is failing?",
			"Is this a CPU, motherboard, or peripheral issue?",
			"Are there signs of overheating or power issues?",
			"Is the BIOS/UEFI firmware up to date?",
		},
		CommonFixes: []string{
			"Update BIOS/UEFI firmware to latest version",
			"Check CPU and system temperatures",
			"Test with minimal hardware configuration",
			"Run manufacturer hardware diagnostics",
			"Check power supply stability and connections",
			"Reseat RAM and expansion cards",
		},
	},
	model.CategorySystem: {
		Name:        "System/Kernel Crash",
		Description: "Crash in core Windows kernel or critical system processes.",
		FocusAreas: []string{
			"Identify if this is a kernel integrity issue",
			"Check for security-related crashes",
			"Analyze critical process termination",
			"Look for system file corruption",
		},
		KeyQuestions: []string{
			"Is a critical Windows process crashing?",
			"Are there signs of system file corruption?",
			"Could this be a security or antivirus issue?",
			"Is the Windows installation healthy?",
		},
		CommonFixes: []string{
			"Run System File Checker (sfc /scannow)",
			"Run DISM to repair Windows image",
			"Check for Windows Update issues",
			"Temporarily disable antivirus/security software",
			"Consider Windows repair installation",
			"Check for malware with offline scanner",
		},
	},
	model.CategoryVideo: {
		Name:        "Video/Display Crash",
		Description: "Crash related to graphics drivers or display subsystem.",
		FocusAreas: []string{
			"Identify the graphics driver involved",
			"Check for TDR (Timeout Detection and Recovery) issues",
			"Analyze GPU timeout or scheduler problems",
			"Look for display driver memory issues",
		},
		KeyQuestions: []string{
			"Which graphics driver is responsible?",
			"Is this a GPU hardware or driver software issue?",
			"Are there signs of GPU overheating or power issues?",
			"Is the GPU overclocked or running demanding workloads?",
		},
		CommonFixes: []string{
			"Update graphics driver using DDU for clean install",
			"Roll back to previous stable graphics driver",
			"Check GPU temperatures and cooling",
			"Reduce GPU overclock settings",
			"Increase TDR timeout via registry (advanced)",
			"Test with basic display adapter",
		},
	},
	model.CategoryStorage: {
		Name:        "Storage/Disk Crash",
		Description: "Crash related to storage drivers, file systems, or disk hardware.",
		FocusAreas: []string{
			"Identify the storage driver or controller involved",
			"Check for file system corruption",
			"Analyze disk I/O errors or timeouts",
			"Look for storage controller issues",
		},
		KeyQuestions: []string{
			"Is this a disk hardware or driver issue?",
			"Are there signs of file system corruption?",
			"Is the storage controller firmware up to date?",
			"Could this be a cable or connection issue?",
		},
		CommonFixes: []string{
			"Run CHKDSK on affected drives",
			"Update storage controller drivers",
			"Check disk health with manufacturer tools",
			"Check and replace SATA/power cables",
			"Update storage controller firmware",
			"Check for SSD firmware updates",
		},
	},
	model.CategoryUnknown: {
		Name:        "Unknown Crash Type",
		Description: "Crash type could not be categorized; requires general analysis.",
		FocusAreas: []string{
			"Perform general crash analysis",
			"Look for patterns in crash data",
			"Identify any obvious issues from stack trace",
			"Check for recently installed software or drivers",
		},
		KeyQuestions: []string{
			"What was the system doing when it crashed?",
			"Are there any patterns in recent crashes?",
			"Were any changes made before the crash started?",
			"What software was running at the time?",
		},
		CommonFixes: []string{
			"Check Event Viewer for related errors",
			"Review recently installed software and drivers",
			"Run Windows Update",
			"Perform clean boot to isolate issues",
			"Check system temperatures",
		},
	},
}

// ProfileOf returns the guidance for a category. Unrecognized categories
// get the unknown profile. The returned slices are copies.
func ProfileOf(c model.Category) Profile {
	p, ok := profiles[c]
	if !ok {
		p = profiles[model.CategoryUnknown]
	}
	return Profile{
		Name:         p.Name,
		Description:  p.Description,
		FocusAreas:   slices.Clone(p.FocusAreas),
		KeyQuestions: slices.Clone(p.KeyQuestions),
		CommonFixes:  slices.Clone(p.CommonFixes),
	}
}
