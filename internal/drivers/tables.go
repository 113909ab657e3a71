package drivers

// knownProblematic maps a driver file name to the reason it is flagged.
// Keys are case-folded.
var knownProblematic = map[string]string{
	// Antivirus and security filters
	"aswsp.sys":    "Avast Software - may cause memory issues",
	"aswsnx.sys":   "Avast Software - file system filter",
	"avgsp.sys":    "AVG Antivirus - may cause conflicts",
	"bdvedisk.sys": "Bitdefender - virtual disk driver",
	"klif.sys":     "Kaspersky Lab - file system filter",
	"tmusa.sys":    "Trend Micro - may cause performance issues",
	"tmcomm.sys":   "Trend Micro - communication driver",

	// Graphics
	"nvlddmkm.sys": "NVIDIA Display Driver - common crash source",
	"atikmpag.sys": "AMD Display Driver - may cause TDR failures",
	"igdkmd64.sys": "Intel Graphics - may conflict with dedicated GPU",
	"amdkmdag.sys": "AMD Graphics - kernel mode driver",

	// Network
	"e1c62x64.sys": "Intel Ethernet - may cause network issues",
	"rt640x64.sys": "Realtek Ethernet - may cause BSODs",
	"nwifi.sys":    "Windows WiFi driver - rarely causes issues",

	// Storage
	"iastorv.sys":  "Intel Rapid Storage - may cause disk issues",
	"storahci.sys": "Standard AHCI driver - check for updates",
	"nvme.sys":     "NVMe controller driver",
	"mrvldev0.sys": "Marvell storage - known for issues",

	// Hardware utilities
	"cpuz.sys":     "CPU-Z driver - can cause issues",
	"rtcore64.sys": "MSI Afterburner - known vulnerability",
	"asmtxhci.sys": "ASMedia USB 3.0 - may cause USB issues",
	"asustp.sys":   "ASUS driver - check for updates",
	"ene.sys":      "MSI/RGB software - known issues",
	"wintap.sys":   "VPN/Firewall software",

	// Virtualization
	"vboxdrv.sys": "VirtualBox - may conflict with Hyper-V",
	"vmci.sys":    "VMware - virtualization driver",
	"vmx86.sys":   "VMware Workstation driver",

	// Audio
	"nahimicservice.sys": "Nahimic audio - known for conflicts",
	"a2dpsrv.sys":        "A-Volute - Sonic Studio, causes issues",
}

// knownMicrosoft lists core Windows modules by file name. Keys are case-folded.
var knownMicrosoft = map[string]struct{}{
	"ntoskrnl.exe": {}, "hal.dll": {}, "ci.dll": {}, "clfs.sys": {}, "tm.sys": {},
	"ntfs.sys": {}, "fltmgr.sys": {}, "wdf01000.sys": {}, "ksecdd.sys": {},
	"ndis.sys": {}, "tcpip.sys": {}, "netio.sys": {}, "fwpkclnt.sys": {},
	"storport.sys": {}, "spaceport.sys": {}, "volmgr.sys": {}, "volmgrx.sys": {},
	"mountmgr.sys": {}, "partmgr.sys": {}, "disk.sys": {}, "classpnp.sys": {},
	"acpi.sys": {}, "wmilib.sys": {}, "msrpc.sys": {}, "cng.sys": {}, "ksecpkg.sys": {},
}

// Code-integrity signing levels that only Microsoft-signed images reach.
const (
	signingLevelMicrosoft  = 8
	signingLevelWindows    = 12
	signingLevelWindowsTCB = 14
)
