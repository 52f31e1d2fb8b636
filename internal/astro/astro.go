// Package astro provides spherical geometry helpers shared by the
// likelihood engine and the injector.
package astro

import "math"

// AngularSeparation returns the great-circle angle in radians between two
// equatorial directions given in radians. The haversine form keeps the
// result stable for very small separations, which dominate the signal
// spatial PDF.
func AngularSeparation(ra1, dec1, ra2, dec2 float64) float64 {
	sinDDec := math.Sin((dec2 - dec1) / 2)
	sinDRA := math.Sin((ra2 - ra1) / 2)

	a := sinDDec*sinDDec + math.Cos(dec1)*math.Cos(dec2)*sinDRA*sinDRA
	if a < 0 {
		a = 0
	} else if a > 1 {
		a = 1
	}
	return 2 * math.Asin(math.Sqrt(a))
}

// WrapRA normalizes a right ascension into [0, 2pi).
func WrapRA(ra float64) float64 {
	ra = math.Mod(ra, 2*math.Pi)
	if ra < 0 {
		ra += 2 * math.Pi
	}
	return ra
}

// Rotate applies to (ra, dec) the rotation that carries (fromRA, fromDec)
// onto (toRA, toDec), turning about the axis perpendicular to both. The
// injector uses this to move a simulated event from its generated
// direction onto a source while preserving the reconstruction offset.
func Rotate(ra, dec, fromRA, fromDec, toRA, toDec float64) (float64, float64) {
	v := unitVector(ra, dec)
	a := unitVector(fromRA, fromDec)
	b := unitVector(toRA, toDec)

	// Axis = a x b; its norm is sin(angle).
	axis := [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
	sinAng := math.Sqrt(axis[0]*axis[0] + axis[1]*axis[1] + axis[2]*axis[2])
	cosAng := a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
	if sinAng < 1e-12 {
		// Coincident (or antipodal) directions: nothing sensible to turn
		// about, leave the direction unchanged.
		return WrapRA(ra), dec
	}
	for i := range axis {
		axis[i] /= sinAng
	}

	// Rodrigues rotation of v about axis.
	dot := axis[0]*v[0] + axis[1]*v[1] + axis[2]*v[2]
	cross := [3]float64{
		axis[1]*v[2] - axis[2]*v[1],
		axis[2]*v[0] - axis[0]*v[2],
		axis[0]*v[1] - axis[1]*v[0],
	}
	var r [3]float64
	for i := range r {
		r[i] = v[i]*cosAng + cross[i]*sinAng + axis[i]*dot*(1-cosAng)
	}

	outDec := math.Asin(math.Max(-1, math.Min(1, r[2])))
	outRA := WrapRA(math.Atan2(r[1], r[0]))
	return outRA, outDec
}

func unitVector(ra, dec float64) [3]float64 {
	cd := math.Cos(dec)
	return [3]float64{cd * math.Cos(ra), cd * math.Sin(ra), math.Sin(dec)}
}
