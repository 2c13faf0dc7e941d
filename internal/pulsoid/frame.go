package pulsoid

import (
	"encoding/json"
	"fmt"
	"math"
)

// frame is the permissive envelope for inbound stream messages. The
// service has shipped the BPM under several names over time; all known
// variants are accepted, in priority order: data.heart_rate,
// data.heartRate, then top-level heartRate.
type frame struct {
	HeartRate *float64 `json:"heartRate"`
	Data      *struct {
		HeartRateSnake *float64 `json:"heart_rate"`
		HeartRateCamel *float64 `json:"heartRate"`
	} `json:"data"`
}

// DecodeFrame extracts a heart-rate sample from a raw stream frame.
// A frame that is not the expected JSON envelope returns an error (the
// caller drops it). A well-formed frame with a zero or absent rate
// returns ok=false: no sample, but not an error either.
func DecodeFrame(raw []byte) (bpm int, ok bool, err error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false, fmt.Errorf("decode frame: %w", err)
	}

	var v *float64
	if f.Data != nil {
		if f.Data.HeartRateSnake != nil {
			v = f.Data.HeartRateSnake
		} else if f.Data.HeartRateCamel != nil {
			v = f.Data.HeartRateCamel
		}
	}
	if v == nil {
		v = f.HeartRate
	}
	if v == nil || *v <= 0 {
		return 0, false, nil
	}
	return int(math.Round(*v)), true, nil
}
