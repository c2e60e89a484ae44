package common

// PackageName is used as the Prometheus metrics namespace.
const PackageName = "enclave_build_pipeline"

// Version is set at build time via -ldflags.
var Version = "dev"
