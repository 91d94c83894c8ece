package ir

// EngineVersion is the stitch engine version, reported by stitch --version.
const EngineVersion = "0.1.0"
