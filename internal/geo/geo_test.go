package geo

import (
	"math"
	"testing"
)

func TestDistanceM_ZeroForSamePoint(t *testing.T) {
	p := Point{Latitude: 51.5007, Longitude: -0.1246}
	if d := DistanceM(p, p); d != 0 {
		t.Errorf("DistanceM(p, p) = %v, want 0", d)
	}
}

func TestDistanceM_KnownPair(t *testing.T) {
	// Big Ben to the London Eye, roughly 310 m apart.
	bigBen := Point{Latitude: 51.50072, Longitude: -0.12462}
	eye := Point{Latitude: 51.50335, Longitude: -0.11952}

	d := DistanceM(bigBen, eye)
	if d < 250 || d > 500 {
		t.Errorf("DistanceM = %.1f m, want roughly 310 m", d)
	}
}

func TestDistanceM_Symmetric(t *testing.T) {
	a := Point{Latitude: 40.7128, Longitude: -74.0060}
	b := Point{Latitude: 34.0522, Longitude: -118.2437}

	d1 := DistanceM(a, b)
	d2 := DistanceM(b, a)
	if math.Abs(d1-d2) > 1e-6 {
		t.Errorf("distance not symmetric: %v vs %v", d1, d2)
	}

	// NYC to LA is close to 3940 km.
	if d1 < 3.8e6 || d1 > 4.1e6 {
		t.Errorf("NYC-LA distance = %.0f m, want about 3.94e6", d1)
	}
}

func TestDistanceM_AntimeridianSanity(t *testing.T) {
	a := Point{Latitude: 0, Longitude: 179.9}
	b := Point{Latitude: 0, Longitude: -179.9}

	// Points straddling the antimeridian are ~22 km apart, not half the globe.
	if d := DistanceM(a, b); d > 50000 {
		t.Errorf("antimeridian distance = %.0f m, want under 50 km", d)
	}
}
