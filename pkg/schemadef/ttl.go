package schemadef

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TTL is a per-element expiration, written as an ISO-8601 duration
// ("PT1H", "P7D", "P1DT12H30M"). Calendar units (years, months) are
// rejected because they have no fixed length.
type TTL struct {
	Duration time.Duration
	raw      string
}

var isoDuration = regexp.MustCompile(`^([-+]?)P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:[.,]\d{1,9})?)S)?)?$`)

// ParseTTL parses an ISO-8601 duration.
func ParseTTL(s string) (*TTL, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	m := isoDuration.FindStringSubmatch(s)
	if m == nil || s == "P" || strings.HasSuffix(s, "T") {
		return nil, fmt.Errorf("failed to parse ISO-8601 duration value %q", s)
	}

	var d time.Duration
	units := []time.Duration{7 * 24 * time.Hour, 24 * time.Hour, time.Hour, time.Minute}
	for i, unit := range units {
		if m[i+2] == "" {
			continue
		}
		n, err := strconv.ParseInt(m[i+2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ISO-8601 duration value %q: %w", s, err)
		}
		d += time.Duration(n) * unit
	}
	if secs := m[6]; secs != "" {
		f, err := strconv.ParseFloat(strings.Replace(secs, ",", ".", 1), 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ISO-8601 duration value %q: %w", s, err)
		}
		d += time.Duration(f * float64(time.Second))
	}
	if m[1] == "-" {
		d = -d
	}
	return &TTL{Duration: d, raw: s}, nil
}

// String returns the original notation, or a normalized one for TTLs built
// in code.
func (t *TTL) String() string {
	if t == nil {
		return ""
	}
	if t.raw != "" {
		return t.raw
	}
	return "PT" + strconv.FormatFloat(t.Duration.Seconds(), 'f', -1, 64) + "S"
}

// UnmarshalYAML decodes an ISO-8601 scalar.
func (t *TTL) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseTTL(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*t = *parsed
	return nil
}

// MarshalYAML encodes the TTL back to its ISO-8601 form.
func (t TTL) MarshalYAML() (any, error) {
	return t.String(), nil
}
