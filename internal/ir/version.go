package ir

// Version constants for the storage format and kernel.
const (
	// FormatVersion is the on-disk record format version. Bump it when
	// GlyphRecord or the attribute encoding changes shape.
	FormatVersion = 1

	// KernelVersion is the glyph kernel version.
	KernelVersion = "0.1.0"
)
