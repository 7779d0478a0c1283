package match

const (
	// EngineVersion is the current version of the matching engine
	EngineVersion = "v1.1.0"

	// DefaultDepthLimit is used by depth queries that do not set a limit.
	DefaultDepthLimit = 50
)
