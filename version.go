package chatflow

// Version is the engine release version, overridable at build time via
// -ldflags "-X github.com/aretw0/chatflow.Version=...".
var Version = "0.1.0"
