package main

import "math"

// =============================================================================
// GPS Coordinates
// =============================================================================

// secondsDenominator fixes GPS seconds to four decimal places.
const secondsDenominator = 10000

// Rational is an unsigned fraction as stored in EXIF RATIONAL tags.
type Rational struct {
	Numerator   uint32
	Denominator uint32
}

// Float returns the value of the fraction. A zero denominator yields 0.
func (r Rational) Float() float64 {
	if r.Denominator == 0 {
		return 0
	}
	return float64(r.Numerator) / float64(r.Denominator)
}

// DMS is a coordinate magnitude as degrees, minutes and seconds.
type DMS [3]Rational

// EncodeDMS converts a decimal-degree magnitude into the sexagesimal form used
// by GPSLatitude and GPSLongitude. The sign is dropped; callers carry it in
// the hemisphere reference.
func EncodeDMS(coord float64) DMS {
	coord = math.Abs(coord)
	deg := math.Trunc(coord)
	minFloat := (coord - deg) * 60
	min := math.Trunc(minFloat)
	sec := math.Trunc((minFloat - min) * 60 * secondsDenominator)
	return DMS{
		{Numerator: uint32(deg), Denominator: 1},
		{Numerator: uint32(min), Denominator: 1},
		{Numerator: uint32(sec), Denominator: secondsDenominator},
	}
}

// Degrees reassembles the decimal-degree magnitude.
func (d DMS) Degrees() float64 {
	return d[0].Float() + d[1].Float()/60 + d[2].Float()/3600
}

// latitudeRef returns the hemisphere reference for a latitude.
func latitudeRef(lat float64) string {
	if lat >= 0 {
		return "N"
	}
	return "S"
}

// longitudeRef returns the hemisphere reference for a longitude.
func longitudeRef(lon float64) string {
	if lon >= 0 {
		return "E"
	}
	return "W"
}
