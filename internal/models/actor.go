package models

import "slices"

// Capability is a permission the caller holds for one request.
type Capability string

const (
	CapabilityMaker   Capability = "maker"
	CapabilityChecker Capability = "checker"
)

// Actor is the principal behind a call. Authentication happens upstream;
// the core only receives the resolved id and capabilities.
type Actor struct {
	ID           string
	Capabilities []Capability
}

func (a Actor) Can(c Capability) bool {
	return slices.Contains(a.Capabilities, c)
}
