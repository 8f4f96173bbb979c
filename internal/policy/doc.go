// Package policy loads per-guest rule sets from CUE files.
//
// A policy directory holds one CUE package declaring policies under the
// top-level "policy" field:
//
//	policy: mul_after_add: {
//		guest: "arith.mul"
//		rules: [{precedence: preceding: "arith.add"}]
//		ordering_rules: []
//	}
//
// Guest references are registered guest names or 64-character hex image
// IDs. At most one policy may target a given guest.
package policy
