// Package main (cmd/buildctl) implements the stage-granular pipeline CLI.
//
// The pipeline's stages normally run in separate environments: the image
// build happens wherever the source and registry are reachable, while the
// enclave conversion runs on a host with the enclave tooling installed.
// buildctl makes each stage a standalone command and persists the typed
// hand-off between them as JSON files, so a resolved build request or a
// stage one result can be moved between hosts and the run continued there.
//
// Commands:
//
//	validate   - Check a configuration against the schema and semantic rules
//	resolve    - Pin a configuration into a build request (build-request.json)
//	stage-one  - Build and push the image, record the digest (stage-one-result.json)
//	stage-two  - Pull by digest, convert to an enclave image, write artifacts
//	publish    - Publish the conversion outputs and create the release record
//	run        - Execute the whole pipeline in-process
//
// Example split run:
//
//	buildctl resolve --config apps/demo/enclave.yaml --app-dir demo
//	buildctl stage-one --registry-repository registry.example.com/enclaves
//	# copy stage-one-result.json to the conversion host
//	buildctl stage-two
//	buildctl publish --artifact-location file:///var/lib/enclave-artifacts \
//	    --release-repo example/enclave-releases
//
// stage-two accepts --expected-measurements to verify the conversion output
// against a previously published document; a mismatch is reported as a
// determinism violation and nothing is published.
package main
