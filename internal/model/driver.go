package model

// ExtractionMethod tells how complete a driver list is.
type ExtractionMethod string

const (
	// ExtractionFullWalk means the loaded-module list was walked to its end.
	ExtractionFullWalk ExtractionMethod = "full-walk"

	// ExtractionBestEffort means the walk stopped early; the list is partial.
	ExtractionBestEffort ExtractionMethod = "best-effort"

	// ExtractionNotAttempted means the dump lacks what a walk needs.
	ExtractionNotAttempted ExtractionMethod = "not-attempted"
)

// Driver is one loaded kernel module.
type Driver struct {
	Name        string `json:"name"`
	BaseAddress string `json:"base_address"`
	Size        uint32 `json:"size"`
	SizeHuman   string `json:"size_human"`

	// Path is the scrubbed image path.
	Path string `json:"path,omitempty"`

	// Timestamp is the link time in seconds since the Unix epoch.
	Timestamp      uint32 `json:"timestamp,omitempty"`
	TimestampHuman string `json:"timestamp_human,omitempty"`

	Version string `json:"version"`
	Company string `json:"company,omitempty"`

	// SignatureLevel is the code-integrity signing level; 0 when unchecked.
	SignatureLevel uint8 `json:"signature_level"`

	IsMicrosoft       bool   `json:"is_microsoft"`
	IsProblematic     bool   `json:"is_problematic"`
	ProblematicReason string `json:"problematic_reason,omitempty"`
}

// DriversInfo is the classified driver list.
type DriversInfo struct {
	TotalCount       int              `json:"total_count"`
	MicrosoftCount   int              `json:"microsoft_count"`
	ThirdPartyCount  int              `json:"third_party_count"`
	ProblematicCount int              `json:"problematic_count"`
	ExtractionMethod ExtractionMethod `json:"extraction_method"`
	Note             string           `json:"note,omitempty"`

	Drivers            []Driver `json:"drivers"`
	ProblematicDrivers []Driver `json:"problematic_drivers"`
}

// Names returns the driver names in list order.
func (d *DriversInfo) Names() []string {
	names := make([]string, 0, len(d.Drivers))
	for _, drv := range d.Drivers {
		names = append(names, drv.Name)
	}
	return names
}
