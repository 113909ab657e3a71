package model

// Category groups stop codes by the subsystem most likely at fault.
type Category string

// Bugcheck categories.
const (
	CategoryDriver   Category = "driver"
	CategoryMemory   Category = "memory"
	CategoryHardware Category = "hardware"
	CategorySystem   Category = "system"
	CategoryVideo    Category = "video"
	CategoryStorage  Category = "storage"
	CategoryUnknown  Category = "unknown"
)

// Categories lists every category in display order.
func Categories() []Category {
	return []Category{
		CategoryDriver,
		CategoryMemory,
		CategoryHardware,
		CategorySystem,
		CategoryVideo,
		CategoryStorage,
		CategoryUnknown,
	}
}

// BugcheckAnalysis is the static interpretation of a stop code and its
// parameters.
type BugcheckAnalysis struct {
	Code    uint32 `json:"code"`
	CodeHex string `json:"code_hex"`
	Name    string `json:"name"`

	Category     Category `json:"category"`
	CategoryName string   `json:"category_name"`
	Description  string   `json:"description"`

	// Parameters always holds four entries.
	Parameters []ParameterAnalysis `json:"parameters"`

	LikelyCauses    []string `json:"likely_causes"`
	Recommendations []string `json:"recommendations"`
	Severity        Severity `json:"severity"`

	// === Category profile ===
	// These guide the downstream analysis toward the right questions for
	// the category.

	FocusAreas   []string `json:"focus_areas"`
	KeyQuestions []string `json:"key_questions"`
	CommonFixes  []string `json:"common_fixes"`
}

// ParameterAnalysis describes one bugcheck parameter.
type ParameterAnalysis struct {
	ParameterNumber int    `json:"parameter_number"`
	RawValue        uint64 `json:"raw_value"`
	HexValue        string `json:"hex_value"`
	Description     string `json:"description"`

	// Interpretation decodes well-known values, e.g. a trap number.
	Interpretation string `json:"interpretation,omitempty"`
}
