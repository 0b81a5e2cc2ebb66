// Package proofkey implements the Proof-Key Validator (spec §4, C7): a
// pre-dispatch hook that confirms an inbound WOPI request genuinely
// originated from a trusted WOPI client, via the X-WOPI-Proof /
// X-WOPI-ProofOld signature scheme WOPI clients use.
//
// The default Validator is permissive — it always passes — because real
// signature verification requires the client's published proof-key
// certificates, which are deployment-specific. Production deployments
// must supply a Validator that actually checks the signature.
package proofkey

import "net/http"

// Validator decides whether an inbound request passes proof-key
// verification. A failing Validator short-circuits the request to a 500
// response before any operation dispatch happens (spec §6: "the
// proof-key hook MAY short-circuit to 500 if validation is enabled and
// fails").
type Validator interface {
	Validate(r *http.Request) bool
}

// Permissive is the default Validator: it accepts every request. It
// exists so the pipeline always has a C7 stage to call, not as a
// security control.
type Permissive struct{}

// Validate always returns true.
func (Permissive) Validate(*http.Request) bool { return true }
