// Package abiver gates U-mode ABI compatibility at boot: the hypervisor
// declares the range of umode-api protocol versions it supports, and every
// U-mode ELF embeds the version it was built against (by convention, a
// semver string in its .note.umode-abi section). hypmap.New calls Check
// once, before any PrivateRegion is mapped, recovering a concern the
// original Rust prototype's umode-api/src/lib.rs version checks covered but
// spec.md's distillation dropped.
package abiver

import (
	"github.com/Masterminds/semver/v3"

	"corevisor/hyp"
)

// supportedRange is the hypervisor's accepted U-mode ABI range. Bumped only
// when the HypCall/UmodeRequest register layout (spec §4.H) changes in a
// way old U-mode binaries cannot tolerate.
const supportedRange = ">= 1.0.0, < 2.0.0"

// Supported returns the hypervisor's accepted U-mode ABI constraint set.
func Supported() *semver.Constraints {
	c, err := semver.NewConstraint(supportedRange)
	if err != nil {
		// supportedRange is a compile-time constant; a parse failure here
		// is a programming error, not a runtime condition.
		panic("abiver: invalid constraint literal: " + err.Error())
	}
	return c
}

// Check parses notedVersion and verifies it satisfies Supported(), returning
// KindABIIncompatible if not (or if notedVersion does not parse as semver).
func Check(notedVersion string) *hyp.Error {
	v, err := semver.NewVersion(notedVersion)
	if err != nil {
		return hyp.New("abiver", hyp.KindABIIncompatible, "U-mode ABI note is not a valid version: "+err.Error())
	}
	if !Supported().Check(v) {
		return hyp.New("abiver", hyp.KindABIIncompatible, "U-mode ABI version "+notedVersion+" is outside the supported range "+supportedRange)
	}
	return nil
}
