// Package units converts parcel weights and lengths between the units a shop
// may be configured with.
package units

import (
	"strings"

	"github.com/pkg/errors"
)

// Weight units.
const (
	Gram     = "g"
	Kilogram = "kg"
	Ounce    = "oz"
	Pound    = "lb"
)

// Length units.
const (
	Centimeter = "cm"
	Inch       = "in"
	Foot       = "ft"
)

var gramsPer = map[string]float64{
	Gram:     1,
	Kilogram: 1000,
	Ounce:    28.349523125,
	Pound:    453.59237,
}

var centimetersPer = map[string]float64{
	Centimeter: 1,
	Inch:       2.54,
	Foot:       30.48,
}

// ConvertWeight converts v from one weight unit to another.
func ConvertWeight(from, to string, v float64) (float64, error) {
	f, ok := gramsPer[strings.ToLower(from)]
	if !ok {
		return 0, errors.Errorf("unknown weight unit %q", from)
	}
	t, ok := gramsPer[strings.ToLower(to)]
	if !ok {
		return 0, errors.Errorf("unknown weight unit %q", to)
	}
	return v * f / t, nil
}

// ConvertLength converts v from one length unit to another.
func ConvertLength(from, to string, v float64) (float64, error) {
	f, ok := centimetersPer[strings.ToLower(from)]
	if !ok {
		return 0, errors.Errorf("unknown length unit %q", from)
	}
	t, ok := centimetersPer[strings.ToLower(to)]
	if !ok {
		return 0, errors.Errorf("unknown length unit %q", to)
	}
	return v * f / t, nil
}

// NormalizeWeightToGrams converts a weight in uom to grams. Unknown units
// are treated as grams.
func NormalizeWeightToGrams(uom string, w float64) float64 {
	g, err := ConvertWeight(uom, Gram, w)
	if err != nil {
		return w
	}
	return g
}
