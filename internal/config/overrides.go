package config

import (
	"fmt"

	"github.com/example/integration-hub/internal/routing"
)

// ApplyChannelOverrides returns a copy of base with the given fields
// replaced. Keys outside the known channel fields are rejected. base and its
// maps are not modified.
func ApplyChannelOverrides(base routing.ChannelConfig, overrides map[string]any) (routing.ChannelConfig, error) {
	out := base
	out.AllowedUrgencies = copyMap(base.AllowedUrgencies)
	out.AllowedTypes = copyMap(base.AllowedTypes)
	out.TeamRestrictions = copyMap(base.TeamRestrictions)
	if base.ActiveHours != nil {
		hours := *base.ActiveHours
		out.ActiveHours = &hours
	}

	for key, raw := range overrides {
		switch key {
		case "max_messages_per_hour":
			n, ok := raw.(int)
			if !ok || n < 0 {
				return base, fmt.Errorf("%s must be a non-negative integer, got %v", key, raw)
			}
			out.MaxMessagesPerHour = n

		case "enabled":
			b, ok := raw.(bool)
			if !ok {
				return base, fmt.Errorf("%s must be a boolean, got %v", key, raw)
			}
			out.Enabled = b

		case "allowed_urgencies":
			list, err := stringSlice(key, raw)
			if err != nil {
				return base, err
			}
			if out.AllowedUrgencies, err = urgencies(list); err != nil {
				return base, fmt.Errorf("%s: %w", key, err)
			}

		case "allowed_types":
			list, err := stringSlice(key, raw)
			if err != nil {
				return base, err
			}
			if out.AllowedTypes, err = types(list); err != nil {
				return base, fmt.Errorf("%s: %w", key, err)
			}

		case "team_restrictions":
			list, err := stringSlice(key, raw)
			if err != nil {
				return base, err
			}
			out.TeamRestrictions = teams(list)

		case "active_hours":
			if raw == nil {
				out.ActiveHours = nil
				continue
			}
			hours, err := hourRange(raw)
			if err != nil {
				return base, err
			}
			out.ActiveHours = hours

		default:
			return base, fmt.Errorf("unknown channel field %q", key)
		}
	}
	return out, nil
}

func copyMap[K comparable](m map[K]bool) map[K]bool {
	if m == nil {
		return nil
	}
	out := make(map[K]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func stringSlice(key string, raw any) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s must be a list of strings, got %v", key, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be a list of strings, got %T", key, raw)
	}
}

func hourRange(raw any) (*routing.HourRange, error) {
	switch v := raw.(type) {
	case routing.HourRange:
		return &v, nil
	case map[string]any:
		start, okStart := v["start"].(int)
		end, okEnd := v["end"].(int)
		if !okStart || !okEnd || start < 0 || start > 23 || end < 0 || end > 23 {
			return nil, fmt.Errorf("active_hours needs integer start and end in 0-23, got %v", v)
		}
		return &routing.HourRange{Start: start, End: end}, nil
	default:
		return nil, fmt.Errorf("active_hours must be a mapping, got %T", raw)
	}
}
