// Package apporch provides an application deployment orchestration runtime.
//
// It offers:
// - resource definition registration by fully-qualified type name with generic Definition
// - capability lookup over namespace-derived candidate names
// - sub-resource binding with a non-owning back-reference to the owning Deployment
// - an ordered lifecycle (directory, path binding, pre-compile ... restart) with fail-fast semantics
// - run coalescing per deployment and reverse-binding-order shutdown of children
package apporch
