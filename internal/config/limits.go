package config

const (
	// MaxBookTitleLength is the maximum length for book titles.
	// Limited to 255 to fit in PostgreSQL VARCHAR(255) and provide
	// reasonable UX (titles should be short and descriptive).
	MaxBookTitleLength = 255

	// MaxChunkTypeLength is the maximum length for the chunk type
	// discriminator ("scene", "brief", "style", ...).
	MaxChunkTypeLength = 64

	// MaxJobTypeLength is the maximum length for job type keys.
	MaxJobTypeLength = 64

	// DefaultKeepVersions is how many versions per chunk retention cleanup
	// keeps when the caller does not specify a count.
	DefaultKeepVersions = 20

	// MaxTemplateLength caps task template size. Templates are authored by
	// hand; anything larger indicates a runaway reference expansion.
	MaxTemplateLength = 64 * 1024
)
