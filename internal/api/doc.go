// Package api hosts the HTTP handlers that front the streamgate REST API.
//
// Handler coordinates request validation and response shaping while
// delegating persistence to store.Repository implementations, authorization
// to the policy engine, URL minting to the signer, and backend convergence to
// the reconciler. Dependencies are injected at construction time; the package
// does not reach for globals or singletons.
//
// Handler implementations assume upstream middleware from internal/server has
// already attached request logging and metrics. New routes should preserve
// that contract rather than duplicating instrumentation inline.
package api
