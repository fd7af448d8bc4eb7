package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// ParameterSet is the control-parameter reply sent to agents.
type ParameterSet struct {
	Omega     float64 `yaml:"omega" json:"omega"`
	Kappa     float64 `yaml:"kappa" json:"kappa"`
	Alpha     float64 `yaml:"alpha" json:"alpha"`
	Center    float64 `yaml:"center" json:"center"`
	Amplitude float64 `yaml:"amplitude" json:"amplitude"`
	// StopID names the agent that should stop after StopDelay seconds; 0 disables.
	StopID    int `yaml:"stop_id" json:"stop_id"`
	StopDelay int `yaml:"stop_delay" json:"stop_delay"`
}

// DefaultParameterSet returns the stock oscillator parameters.
func DefaultParameterSet() ParameterSet {
	return ParameterSet{
		Omega:     3.14 * 3,
		Kappa:     1.5,
		Alpha:     0.2,
		Center:    110.0,
		Amplitude: 60.0,
	}
}

// FormatParameters renders the reply payload. Legacy replies carry only
// omega, kappa and alpha.
func FormatParameters(p ParameterSet, legacy bool) []byte {
	s := fmt.Sprintf("omega:%.2f,kappa:%.2f,alpha:%.2f", p.Omega, p.Kappa, p.Alpha)
	if !legacy {
		s += fmt.Sprintf(",center:%.1f,amplitude:%.1f,stop_id:%d,stop_delay:%d",
			p.Center, p.Amplitude, p.StopID, p.StopDelay)
	}
	return []byte(s)
}

// ParseParameters parses a reply payload. Both the three-field and the
// seven-field forms are accepted.
func ParseParameters(payload []byte) (ParameterSet, error) {
	var p ParameterSet
	fields, err := splitFields(string(payload))
	if err != nil {
		return p, err
	}

	floats := map[string]*float64{
		"omega": &p.Omega, "kappa": &p.Kappa, "alpha": &p.Alpha,
		"center": &p.Center, "amplitude": &p.Amplitude,
	}
	ints := map[string]*int{"stop_id": &p.StopID, "stop_delay": &p.StopDelay}

	for _, key := range []string{"omega", "kappa", "alpha"} {
		if _, ok := fields[key]; !ok {
			return p, fmt.Errorf("missing field %q", key)
		}
	}
	for key, raw := range fields {
		if dst, ok := floats[key]; ok {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return p, fmt.Errorf("field %q: %w", key, err)
			}
			*dst = v
			continue
		}
		if dst, ok := ints[key]; ok {
			v, err := strconv.Atoi(raw)
			if err != nil {
				return p, fmt.Errorf("field %q: %w", key, err)
			}
			*dst = v
		}
	}
	return p, nil
}

// EncodeParameterRequest builds the request datagram sent by current firmware.
func EncodeParameterRequest(agentID, analog26 int) []byte {
	return []byte(fmt.Sprintf("%s,id:%d,analog26:%d", ParamRequestPrefix, agentID, analog26))
}

func decodeParameterRequest(payload []byte) (*ParameterRequest, error) {
	rest := strings.TrimRight(string(payload[len(ParamRequestPrefix):]), "\r\n\x00 ")
	if rest == "" {
		return &ParameterRequest{Legacy: true}, nil
	}
	if rest[0] != ',' {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  fmt.Sprintf("parameter request: missing delimiter after %s", ParamRequestPrefix),
		}
	}

	fields, err := splitFields(rest[1:])
	if err != nil {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "parameter request", Err: err}
	}

	req := &ParameterRequest{}
	for key, dst := range map[string]*int{"id": &req.AgentID, "analog26": &req.Analog26} {
		raw, ok := fields[key]
		if !ok {
			return nil, &FrameError{
				Kind: FrameErrorDecode,
				Msg:  fmt.Sprintf("parameter request: missing field %q", key),
			}
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, &FrameError{
				Kind: FrameErrorDecode,
				Msg:  fmt.Sprintf("parameter request: field %q is not numeric", key),
				Err:  err,
			}
		}
		*dst = v
	}
	return req, nil
}

// splitFields parses "k:v,k:v" into a map.
func splitFields(s string) (map[string]string, error) {
	fields := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		key, val, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("field %q has no ':' delimiter", part)
		}
		fields[strings.TrimSpace(key)] = strings.TrimSpace(val)
	}
	return fields, nil
}
