package journal

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"kappa-stage/pkg/kinematics"
)

// encodeTriple stores a position as a three-element JSON array. Non-finite
// values, which encoding/json rejects, become the strings "NaN", "+Inf" and
// "-Inf".
func encodeTriple(a, b, c float64) string {
	parts := make([]string, 3)
	for i, v := range [3]float64{a, b, c} {
		s := strconv.FormatFloat(v, 'g', -1, 64)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			s = strconv.Quote(s)
		}
		parts[i] = s
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func decodeTriple(data string) ([3]float64, error) {
	var out [3]float64
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return out, err
	}
	if len(raw) != 3 {
		return out, fmt.Errorf("expected 3 values, got %d", len(raw))
	}
	for i, r := range raw {
		s := string(r)
		if strings.HasPrefix(s, `"`) {
			if err := json.Unmarshal(r, &s); err != nil {
				return out, err
			}
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return out, err
		}
		out[i] = v
	}
	return out, nil
}

func encodeVirtual(v kinematics.VirtualPosition) string {
	return encodeTriple(v.EEta, v.EChi, v.EPhi)
}

func decodeVirtual(data string) (kinematics.VirtualPosition, error) {
	t, err := decodeTriple(data)
	return kinematics.VirtualPosition{EEta: t[0], EChi: t[1], EPhi: t[2]}, err
}

func encodeReal(r kinematics.RealPosition) string {
	return encodeTriple(r.Eta, r.Kappa, r.Phi)
}

func decodeReal(data string) (kinematics.RealPosition, error) {
	t, err := decodeTriple(data)
	return kinematics.RealPosition{Eta: t[0], Kappa: t[1], Phi: t[2]}, err
}
