package locmux

import (
	"fmt"
	"strconv"
	"strings"
)

// Fix is a parsed GPS position report.
type Fix struct {
	Latitude  float64
	Longitude float64
	Valid     bool
}

// ErrNotPosition marks NMEA sentences that carry no position we care about
// (GSV, GSA, etc.). Callers skip these without logging.
var ErrNotPosition = fmt.Errorf("not a position sentence")

// ParseSentence parses one NMEA 0183 line and returns a Fix for RMC and GGA
// sentences. Other sentence types return ErrNotPosition. Lines with a bad
// checksum or malformed fields return an error.
func ParseSentence(line string) (Fix, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return Fix{}, fmt.Errorf("missing sentence start: %q", line)
	}

	body := line[1:]
	if i := strings.IndexByte(body, '*'); i >= 0 {
		want := body[i+1:]
		body = body[:i]
		if err := verifyChecksum(body, want); err != nil {
			return Fix{}, err
		}
	}

	fields := strings.Split(body, ",")
	talker := fields[0]
	switch {
	case strings.HasSuffix(talker, "RMC"):
		return parseRMC(fields)
	case strings.HasSuffix(talker, "GGA"):
		return parseGGA(fields)
	default:
		return Fix{}, ErrNotPosition
	}
}

// parseRMC handles $xxRMC: time, status (A=valid/V=void), lat, N/S, lon, E/W.
func parseRMC(fields []string) (Fix, error) {
	if len(fields) < 7 {
		return Fix{}, fmt.Errorf("RMC sentence too short: %d fields", len(fields))
	}
	if fields[2] != "A" {
		return Fix{Valid: false}, nil
	}
	lat, err := parseCoordinate(fields[3], fields[4])
	if err != nil {
		return Fix{}, fmt.Errorf("RMC latitude: %w", err)
	}
	lon, err := parseCoordinate(fields[5], fields[6])
	if err != nil {
		return Fix{}, fmt.Errorf("RMC longitude: %w", err)
	}
	return Fix{Latitude: lat, Longitude: lon, Valid: true}, nil
}

// parseGGA handles $xxGGA: time, lat, N/S, lon, E/W, fix quality (0 = none).
func parseGGA(fields []string) (Fix, error) {
	if len(fields) < 7 {
		return Fix{}, fmt.Errorf("GGA sentence too short: %d fields", len(fields))
	}
	if fields[6] == "0" || fields[6] == "" {
		return Fix{Valid: false}, nil
	}
	lat, err := parseCoordinate(fields[2], fields[3])
	if err != nil {
		return Fix{}, fmt.Errorf("GGA latitude: %w", err)
	}
	lon, err := parseCoordinate(fields[4], fields[5])
	if err != nil {
		return Fix{}, fmt.Errorf("GGA longitude: %w", err)
	}
	return Fix{Latitude: lat, Longitude: lon, Valid: true}, nil
}

// parseCoordinate converts an NMEA ddmm.mmmm / dddmm.mmmm value plus its
// hemisphere letter into signed decimal degrees.
func parseCoordinate(value, hemisphere string) (float64, error) {
	if value == "" {
		return 0, fmt.Errorf("empty coordinate")
	}
	raw, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("bad coordinate %q: %w", value, err)
	}

	degrees := float64(int(raw / 100))
	minutes := raw - degrees*100
	if minutes >= 60 {
		return 0, fmt.Errorf("minutes out of range in %q", value)
	}
	deg := degrees + minutes/60

	switch hemisphere {
	case "N", "E":
		return deg, nil
	case "S", "W":
		return -deg, nil
	default:
		return 0, fmt.Errorf("bad hemisphere %q", hemisphere)
	}
}

// verifyChecksum checks the XOR checksum of the sentence body against the
// transmitted hex value.
func verifyChecksum(body, want string) error {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	got := fmt.Sprintf("%02X", sum)
	if !strings.EqualFold(got, strings.TrimSpace(want)) {
		return fmt.Errorf("checksum mismatch: computed %s, sentence says %s", got, want)
	}
	return nil
}
