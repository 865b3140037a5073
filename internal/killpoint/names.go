package killpoint

// EnvVar names the environment variable that sets the target at startup.
const EnvVar = "COUCHYARD_KILL_POINT"

// Kill point names follow "Component.Step:N" where N is 0 for "before" and
// 1 for "after".
const (
	// Commit path
	CommitBodies1 = "Commit.Bodies:1" // After all bodies are appended
	CommitIndex1  = "Commit.Index:1"  // After both trees are written, before the header

	// Header path
	HeaderWrite1 = "Header.Write:1" // After the header is appended, before sync
	HeaderSync1  = "Header.Sync:1"  // After the header is synced

	// Compaction
	CompactCopy1 = "Compact.Copy:1" // After documents are copied, before the header
)
