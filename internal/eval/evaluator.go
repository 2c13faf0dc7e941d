// Package eval computes the outgoing OSC value set for one heart-rate
// sample. It is pure apart from warning logs: no I/O, no clocks, no
// session knowledge beyond the inputs it is handed.
package eval

import (
	"log"
	"math"

	"github.com/dwren/pulse-osc/internal/config"
)

// Output is one addressed, typed value ready for the sink. Value is int,
// float64, or bool, matching Type.
type Output struct {
	Address string
	Type    config.OutputType
	Value   any
}

// Evaluate computes the full output set for one sample. The toggle bit is
// read-only during the batch: every toggle-consuming parameter sees the
// same value, and flip reports whether the caller should invert the bit
// after the batch. This keeps all toggle consumers within one sample
// consistent.
func Evaluate(specs []config.ParameterSpec, heartRate int, toggle, connected bool) (outputs []Output, flip bool) {
	outputs = make([]Output, 0, len(specs))
	for _, spec := range specs {
		var raw any
		switch {
		case spec.Output != nil:
			raw = mapRange(float64(heartRate), spec.Input, *spec.Output)
		case spec.Expr.Keyword == config.KeywordHeartRate:
			raw = float64(heartRate)
		case spec.Expr.Keyword == config.KeywordToggle:
			raw = toggle
			flip = true
		case spec.Expr.Keyword == config.KeywordConnectionStatus:
			raw = connected
		default:
			v, err := spec.Expr.Eval(float64(heartRate))
			if err != nil {
				log.Printf("eval: parameter %q: %v; emitting raw heart rate", spec.Name, err)
				v = float64(heartRate)
			}
			raw = v
		}
		outputs = append(outputs, Output{
			Address: spec.Address,
			Type:    spec.Type,
			Value:   coerce(raw, spec.Type),
		})
	}
	return outputs, flip
}

// mapRange clamps hr into in and maps it linearly into out. The result is
// always within [out.Min, out.Max] regardless of hr.
func mapRange(hr float64, in, out config.Range) float64 {
	if hr < in.Min {
		hr = in.Min
	}
	if hr > in.Max {
		hr = in.Max
	}
	return out.Min + (hr-in.Min)/(in.Max-in.Min)*(out.Max-out.Min)
}

// coerce converts a raw evaluation result (float64 or bool) into the
// configured output type.
func coerce(raw any, typ config.OutputType) any {
	switch typ {
	case config.TypeInt:
		if b, ok := raw.(bool); ok {
			if b {
				return 1
			}
			return 0
		}
		return int(math.Round(raw.(float64)))
	case config.TypeFloat:
		if b, ok := raw.(bool); ok {
			if b {
				return float64(1)
			}
			return float64(0)
		}
		return raw.(float64)
	default: // bool: standard truthiness
		if b, ok := raw.(bool); ok {
			return b
		}
		return raw.(float64) != 0
	}
}
