package config

// File represents the structure of the .dumpscan configuration file.
type File struct {
	// Output holds defaults for the analyze command.
	Output OutputConfig `yaml:"output,omitempty"`

	// Limits overrides the extraction bounds.
	Limits LimitsConfig `yaml:"limits,omitempty"`

	// Drivers extends the built-in driver tables.
	Drivers DriverRules `yaml:"drivers,omitempty"`
}

// OutputConfig holds defaults for where and how results are written.
type OutputConfig struct {
	Dir         string `yaml:"dir,omitempty"`
	Format      string `yaml:"format,omitempty"`
	Concurrency int    `yaml:"concurrency,omitempty"`
	Record      bool   `yaml:"record,omitempty"`
}

// LimitsConfig overrides extraction bounds. Pointer fields distinguish an
// explicit zero from an absent key.
type LimitsConfig struct {
	MaxReadSize       int     `yaml:"maxReadSize,omitempty"`
	RunTolerancePages *uint64 `yaml:"runTolerancePages,omitempty"`
	MaxModules        int     `yaml:"maxModules,omitempty"`
	MaxNameBytes      int     `yaml:"maxNameBytes,omitempty"`
	StackScanDepth    *int    `yaml:"stackScanDepth,omitempty"`
	ImageDetails      *bool   `yaml:"imageDetails,omitempty"`
}

// DriverRules extends the driver classification tables.
type DriverRules struct {
	// Problematic maps a driver file name to the reason it is flagged.
	// Entries override built-in reasons for the same name.
	Problematic map[string]string `yaml:"problematic,omitempty"`

	// Microsoft lists additional driver file names to treat as Microsoft
	// components.
	Microsoft []string `yaml:"microsoft,omitempty"`
}
