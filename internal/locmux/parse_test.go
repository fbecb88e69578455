package locmux

import (
	"errors"
	"math"
	"testing"
)

func TestParseSentence_RMC(t *testing.T) {
	fix, err := ParseSentence("$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A")
	if err != nil {
		t.Fatalf("ParseSentence failed: %v", err)
	}
	if !fix.Valid {
		t.Fatal("expected a valid fix")
	}
	if math.Abs(fix.Latitude-48.1173) > 1e-4 {
		t.Errorf("latitude = %v, want 48.1173", fix.Latitude)
	}
	if math.Abs(fix.Longitude-11.516667) > 1e-4 {
		t.Errorf("longitude = %v, want 11.516667", fix.Longitude)
	}
}

func TestParseSentence_RMCVoidFix(t *testing.T) {
	fix, err := ParseSentence("$GPRMC,123521,V,,,,,,,230394,,*38")
	if err != nil {
		t.Fatalf("ParseSentence failed: %v", err)
	}
	if fix.Valid {
		t.Error("void (status V) fix reported as valid")
	}
}

func TestParseSentence_GGA(t *testing.T) {
	fix, err := ParseSentence("$GNGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*59")
	if err != nil {
		t.Fatalf("ParseSentence failed: %v", err)
	}
	if !fix.Valid {
		t.Fatal("expected a valid fix")
	}
	if math.Abs(fix.Latitude-48.1173) > 1e-4 {
		t.Errorf("latitude = %v, want 48.1173", fix.Latitude)
	}
}

func TestParseSentence_SouthWestNegative(t *testing.T) {
	fix, err := ParseSentence("$GPRMC,123519,A,3351.000,S,15112.000,W,0.0,0.0,010100,,")
	if err != nil {
		t.Fatalf("ParseSentence failed: %v", err)
	}
	if fix.Latitude >= 0 {
		t.Errorf("southern latitude = %v, want negative", fix.Latitude)
	}
	if fix.Longitude >= 0 {
		t.Errorf("western longitude = %v, want negative", fix.Longitude)
	}
}

func TestParseSentence_ChecksumMismatch(t *testing.T) {
	_, err := ParseSentence("$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*00")
	if err == nil {
		t.Fatal("expected checksum error")
	}
}

func TestParseSentence_NonPositionSentence(t *testing.T) {
	_, err := ParseSentence("$GPGSV,2,1,08,01,40,083,46,02,17,308,41,12,07,344,39,14,22,228,45*75")
	if !errors.Is(err, ErrNotPosition) {
		t.Fatalf("err = %v, want ErrNotPosition", err)
	}
}

func TestParseSentence_Garbage(t *testing.T) {
	for _, line := range []string{
		"",
		"not nmea at all",
		"$GPRMC,123519,A*7F",
	} {
		if _, err := ParseSentence(line); err == nil {
			t.Errorf("ParseSentence(%q) succeeded, want error", line)
		}
	}
}
