// Package converge provides experimental incremental convergence for apporch.
//
// Converger is the core type and performs:
// 1. hash every description of the next set
// 2. diff against the hashes of the last successful runs
// 3. build and execute added and changed deployments in input order
// 4. record the new hash only after a successful run
// 5. forget removed deployments once the whole set converged
//
// This package is EXPERIMENTAL and its API may change before v1.
package converge
