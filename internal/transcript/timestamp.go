package transcript

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseTimestamp parses a video timestamp of the form "M:SS", "MM:SS",
// "H:MM:SS" or "HH:MM:SS" into a duration. Bare numbers are treated as
// seconds offsets, the form transcript APIs and agent clients tend to send.
func ParseTimestamp(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s != "" && !strings.Contains(s, ":") {
		secs, err := strconv.ParseFloat(s, 64)
		if err != nil || secs < 0 {
			return 0, fmt.Errorf("invalid timestamp %q", s)
		}
		return time.Duration(secs * float64(time.Second)).Round(time.Second), nil
	}

	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}

	nums := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid timestamp %q", s)
		}
		nums[i] = n
	}

	var total int
	if len(nums) == 2 {
		if nums[1] > 59 {
			return 0, fmt.Errorf("invalid seconds in timestamp %q", s)
		}
		total = nums[0]*60 + nums[1]
	} else {
		if nums[1] > 59 || nums[2] > 59 {
			return 0, fmt.Errorf("invalid timestamp %q", s)
		}
		total = nums[0]*3600 + nums[1]*60 + nums[2]
	}
	return time.Duration(total) * time.Second, nil
}

// FormatTimestamp renders the canonical citation label for a video offset:
// "MM:SS" below one hour, "H:MM:SS" at or above. The mapping is one label
// per value so the presentation layer can parse it back for seeking.
func FormatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Round(time.Second).Seconds())
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
