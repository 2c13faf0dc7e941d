// Package config loads and validates the OSC parameter mapping file.
// This package has NO network or session dependencies. Validation is pure:
// bytes in, specs or a positioned error out. Materializing the default file
// when none exists is the caller's job (see Default and DefaultJSON).
package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OutputType is the wire type of one outgoing OSC value.
type OutputType string

const (
	TypeInt   OutputType = "int"
	TypeFloat OutputType = "float"
	TypeBool  OutputType = "bool"
)

// AddressPrefix is the namespace every parameter address must live under.
const AddressPrefix = "/avatar/parameters/"

// Default input domain for range-mode parameters when no inputRange is given.
const (
	DefaultInputMin = 0
	DefaultInputMax = 255
)

// Range is a numeric interval with Min < Max.
type Range struct {
	Min float64
	Max float64
}

// ParameterSpec is one validated mapping rule. Exactly one of Expr and
// Output is set: expression mode or range mode. The set is immutable once
// loaded; a config change requires a restart.
type ParameterSpec struct {
	Name    string
	Address string
	Type    OutputType

	// Expression mode: a keyword or a parsed arithmetic formula.
	Expr *Expr

	// Range mode: linear map of the clamped heart rate into Output.
	Output *Range
	Input  Range
}

// ValidationError identifies the offending parameter by position and name.
type ValidationError struct {
	Index int
	Name  string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return "parameters: " + e.Msg
	}
	name := e.Name
	if name == "" {
		name = "unnamed"
	}
	return fmt.Sprintf("parameter %d (%q): %s", e.Index, name, e.Msg)
}

// document is the raw file shape. Sections other than "parameters" are
// informational and ignored.
type document struct {
	Parameters []json.RawMessage `json:"parameters"`
}

// Parse decodes and validates a parameter file. It returns the full spec
// set, or the first violation found as a *ValidationError.
func Parse(data []byte) ([]ParameterSpec, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if len(doc.Parameters) == 0 {
		return nil, &ValidationError{Index: -1, Msg: "missing or empty \"parameters\" list"}
	}

	specs := make([]ParameterSpec, 0, len(doc.Parameters))
	seen := make(map[string]int, len(doc.Parameters))

	for i, raw := range doc.Parameters {
		spec, err := parseOne(i, raw)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[spec.Address]; dup {
			return nil, &ValidationError{Index: i, Name: spec.Name,
				Msg: fmt.Sprintf("duplicate address %q (already used by parameter %d)", spec.Address, prev)}
		}
		seen[spec.Address] = i
		specs = append(specs, spec)
	}
	return specs, nil
}

func parseOne(i int, raw json.RawMessage) (ParameterSpec, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ParameterSpec{}, &ValidationError{Index: i, Msg: "entry is not an object"}
	}

	name, _ := fields["name"].(string)
	fail := func(msg string) (ParameterSpec, error) {
		return ParameterSpec{}, &ValidationError{Index: i, Name: name, Msg: msg}
	}

	if _, ok := fields["name"]; !ok {
		return fail("missing \"name\"")
	}
	if _, ok := fields["name"].(string); !ok {
		return fail("\"name\" must be a string")
	}

	addr, ok := fields["address"].(string)
	if !ok {
		return fail("missing or non-string \"address\"")
	}
	if !strings.HasPrefix(addr, AddressPrefix) {
		return fail(fmt.Sprintf("address %q must start with %q", addr, AddressPrefix))
	}

	typStr, ok := fields["type"].(string)
	if !ok {
		return fail("missing or non-string \"type\"")
	}
	typ := OutputType(typStr)
	switch typ {
	case TypeInt, TypeFloat, TypeBool:
	default:
		return fail(fmt.Sprintf("unknown type %q (want int, float, or bool)", typStr))
	}

	_, hasValue := fields["value"]
	_, hasOutput := fields["outputRange"]
	_, hasInput := fields["inputRange"]

	if hasValue && hasOutput {
		return fail("\"value\" and \"outputRange\" are mutually exclusive")
	}
	if !hasValue && !hasOutput {
		return fail("one of \"value\" or \"outputRange\" is required")
	}
	if hasInput && !hasOutput {
		return fail("\"inputRange\" requires \"outputRange\"")
	}

	spec := ParameterSpec{Name: name, Address: addr, Type: typ}

	if hasValue {
		src, ok := fields["value"].(string)
		if !ok {
			return fail("\"value\" must be a string")
		}
		expr, err := ParseExpr(src)
		if err != nil {
			return fail(fmt.Sprintf("invalid value expression %q: %v", src, err))
		}
		if expr.Keyword == KeywordConnectionStatus && typ != TypeBool {
			return fail("connectionStatus is only valid with type \"bool\"")
		}
		spec.Expr = expr
		return spec, nil
	}

	out, err := parseRange(fields["outputRange"])
	if err != nil {
		return fail("outputRange: " + err.Error())
	}
	spec.Output = &out
	spec.Input = Range{Min: DefaultInputMin, Max: DefaultInputMax}
	if hasInput {
		in, err := parseRange(fields["inputRange"])
		if err != nil {
			return fail("inputRange: " + err.Error())
		}
		spec.Input = in
	}
	return spec, nil
}

func parseRange(v any) (Range, error) {
	arr, ok := v.([]any)
	if !ok {
		return Range{}, fmt.Errorf("must be a 2-element array")
	}
	if len(arr) != 2 {
		return Range{}, fmt.Errorf("must have exactly 2 elements, got %d", len(arr))
	}
	min, ok := arr[0].(float64)
	if !ok {
		return Range{}, fmt.Errorf("min is not a number")
	}
	max, ok := arr[1].(float64)
	if !ok {
		return Range{}, fmt.Errorf("max is not a number")
	}
	if min >= max {
		return Range{}, fmt.Errorf("min (%v) must be less than max (%v)", min, max)
	}
	return Range{Min: min, Max: max}, nil
}

// Default returns the documented default parameter set, used when no
// config file exists: raw BPM, two normalized floats, and a per-sample
// toggle. The formulas assume the 0-255 BPM input domain.
func Default() []ParameterSpec {
	specs, err := Parse(DefaultJSON())
	if err != nil {
		// The default document is a compile-time constant; failing to
		// parse it is a programming error.
		panic(fmt.Sprintf("config: default set invalid: %v", err))
	}
	return specs
}

// DefaultJSON returns the default config document, suitable for writing to
// disk so the user has a file to edit.
func DefaultJSON() []byte {
	return []byte(`{
  "_comment": "OSC parameter mapping. Each entry needs a value expression or an outputRange.",
  "parameters": [
    {
      "name": "HR",
      "address": "/avatar/parameters/HR",
      "type": "int",
      "value": "heartRate"
    },
    {
      "name": "Heartrate",
      "address": "/avatar/parameters/Heartrate",
      "type": "float",
      "value": "heartRate/127-1"
    },
    {
      "name": "Heartrate2",
      "address": "/avatar/parameters/Heartrate2",
      "type": "float",
      "value": "heartRate/255"
    },
    {
      "name": "HeartBeatToggle",
      "address": "/avatar/parameters/HeartBeatToggle",
      "type": "bool",
      "value": "toggle"
    }
  ]
}
`)
}
