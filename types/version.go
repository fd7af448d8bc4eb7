package types

// Version is the canonical project version, shared by the CLI and the
// notification payloads.
const Version = "1.0.0"
