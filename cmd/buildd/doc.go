// Package main (cmd/buildd) implements the long-running enclave build server.
//
// The server exposes an HTTP trigger API: an application configuration is
// submitted for a directory, validated, resolved into a fully pinned build
// request, built and pushed as a container image, converted into an enclave
// image with its measurement set, and finally published to the configured
// artifact backends together with a release record.
//
// One build per (application, version) pair runs at a time; a second trigger
// for a pair that is still running is rejected. Completed run outcomes are
// queryable, as are the published measurement documents.
//
// Registry credentials can be served from Vault; artifact backends are
// selected through location URIs (file://, s3://, ipfs://) and the first
// location listed is the canonical store that decides idempotency.
//
// Example usage:
//
//	buildd --listen-addr=0.0.0.0:8080 \
//	    --registry-repository=registry.example.com/enclaves \
//	    --artifact-location=s3://secret:key@enclave-artifacts/prod?region=eu-west-1 \
//	    --artifact-location=file:///var/lib/enclave-artifacts \
//	    --release-repo=example/enclave-releases
//
// The server implements graceful shutdown on termination signals and supports
// health checks, metrics collection, and optional profiling endpoints.
package main
