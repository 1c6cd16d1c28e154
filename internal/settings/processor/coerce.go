package processor

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var scheduleLinePattern = regexp.MustCompile(`^([A-Za-z]{3}(?:-[A-Za-z]{3})?)\s+(\d{2}:\d{2})-(\d{2}:\d{2})$`)

func coerceString(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return "", false
	}
}

func coerceNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func coerceBool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "on":
			return true, true
		case "false", "0", "no", "off", "":
			return false, true
		}
		return false, false
	case float64:
		return v != 0, true
	default:
		return false, false
	}
}

func coerceStringList(value any) ([]string, bool) {
	switch v := value.(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := coerceString(item)
			if !ok {
				return nil, false
			}
			if s != "" {
				out = append(out, s)
			}
		}
		return out, true
	case string:
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
		return out, true
	default:
		return nil, false
	}
}

// coercePercentSplit validates a platform split against the keys of the
// default split. Unknown platforms are dropped, missing ones default to 0.
func coercePercentSplit(value any, defaults map[string]float64) (map[string]float64, []string) {
	raw, ok := value.(map[string]any)
	if !ok {
		if typed, isTyped := value.(map[string]float64); isTyped {
			raw = make(map[string]any, len(typed))
			for k, v := range typed {
				raw[k] = v
			}
		} else {
			return nil, []string{"Platform split must be an object of platform percentages."}
		}
	}

	var errs []string
	out := make(map[string]float64, len(defaults))
	for platform := range defaults {
		out[platform] = 0
	}
	for platform, v := range raw {
		if _, known := defaults[platform]; !known {
			continue
		}
		pct, okNum := coerceNumber(v)
		if !okNum {
			errs = append(errs, fmt.Sprintf("Platform split for %q must be a number.", platform))
			continue
		}
		if pct < 0 || pct > 100 {
			errs = append(errs, fmt.Sprintf("Platform split for %q must be between 0 and 100.", platform))
			continue
		}
		out[platform] = pct
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return out, nil
}

func splitSum(split map[string]float64) float64 {
	var sum float64
	for _, pct := range split {
		sum += pct
	}
	return sum
}

func splitSumIsWhole(split map[string]float64) bool {
	return math.Abs(splitSum(split)-100) < 0.01
}

// coerceScheduleList accepts either a newline-separated text block
// ("Mon-Fri 09:00-18:00") or an already-structured list of entries.
func coerceScheduleList(value any) ([]map[string]string, []string) {
	switch v := value.(type) {
	case string:
		var entries []map[string]string
		var errs []string
		for _, line := range strings.Split(v, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			match := scheduleLinePattern.FindStringSubmatch(line)
			if match == nil {
				errs = append(errs, fmt.Sprintf("Working hours line %q is not in the form \"Mon-Fri 09:00-18:00\".", line))
				continue
			}
			entries = append(entries, map[string]string{
				"days":  match[1],
				"start": match[2],
				"end":   match[3],
			})
		}
		if len(errs) > 0 {
			return nil, errs
		}
		return entries, nil
	case []any:
		var entries []map[string]string
		var errs []string
		for i, item := range v {
			entry, ok := item.(map[string]any)
			if !ok {
				errs = append(errs, fmt.Sprintf("Working hours entry %d must be an object.", i+1))
				continue
			}
			days, _ := coerceString(entry["days"])
			start, _ := coerceString(entry["start"])
			end, _ := coerceString(entry["end"])
			if days == "" || start == "" || end == "" {
				errs = append(errs, fmt.Sprintf("Working hours entry %d needs days, start and end.", i+1))
				continue
			}
			entries = append(entries, map[string]string{"days": days, "start": start, "end": end})
		}
		if len(errs) > 0 {
			return nil, errs
		}
		return entries, nil
	case []map[string]string:
		return v, nil
	default:
		return nil, []string{"Working hours must be text lines or a list of entries."}
	}
}

func oneOfContains(options []string, value string) bool {
	for _, option := range options {
		if option == value {
			return true
		}
	}
	return false
}
