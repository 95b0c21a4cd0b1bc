package memory

// SessionMemoryConfig configures the Layer 2 session memory (§4.3.7): the
// record of files already read and findings already made that survives
// context compaction, so a compacted agent doesn't re-read files it has
// already processed.
type SessionMemoryConfig struct {
	// Enabled turns on session memory tracking and injection. Default: true.
	Enabled bool `yaml:"enabled"`

	// MemoryIndex is the fixed message position the memory message is kept
	// at — conventionally right after the system prompt. Default: 1.
	MemoryIndex int `yaml:"memory_index"`

	// MaxFilesTracked caps how many distinct file-read entries are kept;
	// oldest entries are dropped first. Default: 50.
	MaxFilesTracked int `yaml:"max_files_tracked"`

	// MaxFindings caps how many key findings are kept. Default: 15.
	MaxFindings int `yaml:"max_findings"`
}

// SetDefaults applies default values to SessionMemoryConfig.
func (c *SessionMemoryConfig) SetDefaults() {
	if c.MemoryIndex <= 0 {
		c.MemoryIndex = 1
	}
	if c.MaxFilesTracked <= 0 {
		c.MaxFilesTracked = 50
	}
	if c.MaxFindings <= 0 {
		c.MaxFindings = 15
	}
}
