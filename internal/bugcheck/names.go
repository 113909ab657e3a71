package bugcheck

// UnknownName is returned for codes with no symbolic name.
const UnknownName = "UNKNOWN_BUGCHECK"

var names = map[uint32]string{
	0x00000001: "APC_INDEX_MISMATCH",
	0x0000000A: "IRQL_NOT_LESS_OR_EQUAL",
	0x0000001A: "MEMORY_MANAGEMENT",
	0x0000001E: "KMODE_EXCEPTION_NOT_HANDLED",
	0x00000024: "NTFS_FILE_SYSTEM",
	0x0000002E: "DATA_BUS_ERROR",
	0x0000003B: "SYSTEM_SERVICE_EXCEPTION",
	0x0000003F: "NO_MORE_SYSTEM_PTES",
	0x00000050: "PAGE_FAULT_IN_NONPAGED_AREA",
	0x00000077: "KERNEL_STACK_INPAGE_ERROR",
	0x0000007A: "KERNEL_DATA_INPAGE_ERROR",
	0x0000007B: "INACCESSIBLE_BOOT_DEVICE",
	0x0000007E: "SYSTEM_THREAD_EXCEPTION_NOT_HANDLED",
	0x0000007F: "UNEXPECTED_KERNEL_MODE_TRAP",
	0x0000008E: "KERNEL_MODE_EXCEPTION_NOT_HANDLED",
	0x0000009C: "MACHINE_CHECK_EXCEPTION",
	0x0000009F: "DRIVER_POWER_STATE_FAILURE",
	0x000000A0: "INTERNAL_POWER_ERROR",
	0x000000BE: "ATTEMPTED_WRITE_TO_READONLY_MEMORY",
	0x000000C2: "BAD_POOL_CALLER",
	0x000000C4: "DRIVER_VERIFIER_DETECTED_VIOLATION",
	0x000000C5: "DRIVER_CORRUPTED_EXPOOL",
	0x000000D1: "DRIVER_IRQL_NOT_LESS_OR_EQUAL",
	0x000000D3: "DRIVER_PORTION_MUST_BE_NONPAGED",
	0x000000D8: "DRIVER_USED_EXCESSIVE_PTES",
	0x000000EA: "THREAD_STUCK_IN_DEVICE_DRIVER",
	0x000000ED: "UNMOUNTABLE_BOOT_VOLUME",
	0x000000EF: "CRITICAL_PROCESS_DIED",
	0x000000F4: "CRITICAL_OBJECT_TERMINATION",
	0x000000FC: "ATTEMPTED_EXECUTE_OF_NOEXECUTE_MEMORY",
	0x000000FE: "BUGCODE_USB_DRIVER",
	0x00000101: "CLOCK_WATCHDOG_TIMEOUT",
	0x00000109: "CRITICAL_STRUCTURE_CORRUPTION",
	0x00000116: "VIDEO_TDR_FAILURE",
	0x00000117: "VIDEO_TDR_TIMEOUT_DETECTED",
	0x00000119: "VIDEO_SCHEDULER_INTERNAL_ERROR",
	0x0000011A: "VIDEO_SHADOW_DRIVER_FATAL_ERROR",
	0x0000011B: "DRIVER_RETURNED_HOLDING_CANCEL_LOCK",
	0x00000124: "WHEA_UNCORRECTABLE_ERROR",
	0x00000133: "DPC_WATCHDOG_VIOLATION",
	0x00000139: "KERNEL_SECURITY_CHECK_FAILURE",
	0x0000013A: "KERNEL_MODE_HEAP_CORRUPTION",
	0x00000141: "VIDEO_ENGINE_TIMEOUT_DETECTED",
	0x00000144: "BUGCODE_USB3_DRIVER",
	0x00000154: "UNEXPECTED_STORE_EXCEPTION",
	0x0000015F: "CONNECTED_STANDBY_WATCHDOG_TIMEOUT_LIVEDUMP",
	0x00000187: "VIDEO_DWMINIT_TIMEOUT_FALLBACK_BDD",
	0x00000189: "BAD_OBJECT_HEADER",
	0x0000018B: "SECURE_KERNEL_ERROR",
	0x0000018E: "KERNEL_PARTITION_REFERENCE_VIOLATION",
	0x000001C4: "DRIVER_VERIFIER_DETECTED_VIOLATION_LIVEDUMP",
	0x000001C6: "FAST_ERESOURCE_PRECONDITION_VIOLATION",
	0x000001C7: "STORE_DATA_STRUCTURE_CORRUPTION",
	0x000001CA: "SYNTHETIC_WATCHDOG_TIMEOUT",
	0x000001CF: "HARDWARE_WATCHDOG_TIMEOUT",
	0x000001D0: "CPI_FIRMWARE_WATCHDOG_TIMEOUT",
	0x000001D2: "WORKER_THREAD_INVALID_STATE",
	0x000001D5: "DRIVER_PNP_WATCHDOG",
	0x000001DB: "IPI_WATCHDOG_TIMEOUT",
}

// Name returns the symbolic name of a stop code, or UnknownName.
func Name(code uint32) string {
	if n, ok := names[code]; ok {
		return n
	}
	return UnknownName
}
