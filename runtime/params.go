package runtime

import (
	"github.com/pithecene-io/colony/wire"
)

// ParameterHandler answers REQUEST_PARAMS frames from an injected
// parameter set with optional per-agent overrides.
type ParameterHandler struct {
	defaults  wire.ParameterSet
	overrides map[int]wire.ParameterSet
}

// NewParameterHandler creates a handler. overrides may be nil.
func NewParameterHandler(defaults wire.ParameterSet, overrides map[int]wire.ParameterSet) *ParameterHandler {
	return &ParameterHandler{defaults: defaults, overrides: overrides}
}

// Lookup returns the parameter set for an agent id.
func (h *ParameterHandler) Lookup(agentID int) wire.ParameterSet {
	if p, ok := h.overrides[agentID]; ok {
		return p
	}
	return h.defaults
}

// Reply renders the response payload for req. Legacy requests carry no
// agent id and always get the defaults in the three-field form.
func (h *ParameterHandler) Reply(req *wire.ParameterRequest) []byte {
	if req.Legacy {
		return wire.FormatParameters(h.defaults, true)
	}
	return wire.FormatParameters(h.Lookup(req.AgentID), false)
}
