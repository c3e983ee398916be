package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/user/fancybot/internal/sandbox"
	"github.com/user/fancybot/internal/scheduler"
)

// ErrUnknownKey is returned for dotted keys the Config struct does not have.
var ErrUnknownKey = errors.New("unknown config key")

// Flatten turns the JSON object form of a config into dotted keys, e.g.
// {"build": {"compile": "make"}} becomes {"build.compile": "make"}.
// Empty sections produce no keys.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, section map[string]any)
	walk = func(prefix string, section map[string]any) {
		for name, v := range section {
			key := name
			if prefix != "" {
				key = prefix + "." + name
			}
			if child, ok := v.(map[string]any); ok {
				walk(key, child)
				continue
			}
			out[key] = v
		}
	}
	walk("", m)
	return out
}

// Unflatten rebuilds the JSON object form from dotted keys. It fails when
// one key is used both as a value and as a section.
func Unflatten(flat map[string]any) (map[string]any, error) {
	out := make(map[string]any)
	for _, key := range slices.Sorted(maps.Keys(flat)) {
		parts := strings.Split(key, ".")
		node := out
		for _, part := range parts[:len(parts)-1] {
			switch next := node[part].(type) {
			case nil:
				child := make(map[string]any)
				node[part] = child
				node = child
			case map[string]any:
				node = next
			default:
				return nil, fmt.Errorf("config key %s: %s already holds a value", key, part)
			}
		}
		node[parts[len(parts)-1]] = flat[key]
	}
	return out, nil
}

// IsSecretKey reports whether the dotted key holds a credential.
func IsSecretKey(key string) bool {
	return strings.HasSuffix(key, ".token")
}

// MaskSecrets returns a copy of flat with credentials reduced to their last
// four characters ("***abcd"). Empty credentials stay empty.
func MaskSecrets(flat map[string]any) map[string]any {
	out := maps.Clone(flat)
	for key, v := range out {
		s, ok := v.(string)
		if !ok || s == "" || !IsSecretKey(key) {
			continue
		}
		out[key] = "***" + s[max(0, len(s)-4):]
	}
	return out
}

// knownKeys maps every dotted key of Config to its default value.
var knownKeys = sync.OnceValue(func() map[string]any {
	m, err := ToMap(Defaults())
	if err != nil {
		panic(err)
	}
	return Flatten(m)
})

// checks validate individual keys after type conversion.
var checks = map[string]func(v any) error{
	"log_level": func(v any) error {
		switch v {
		case "debug", "info", "warn", "error":
			return nil
		}
		return fmt.Errorf("must be one of debug, info, warn, error")
	},
	"max_concurrent": func(v any) error {
		if v.(float64) < 1 {
			return fmt.Errorf("must be at least 1")
		}
		return nil
	},
	"telegram.messages_per_second": func(v any) error {
		if v.(float64) <= 0 {
			return fmt.Errorf("must be positive")
		}
		return nil
	},
	"eval.command": func(v any) error {
		return sandbox.ValidateCommand(v.(string))
	},
	"build.schedule": func(v any) error {
		if v == "" {
			return nil
		}
		return scheduler.Validate(v.(string))
	},
}

// ParseValue converts the command-line form of value to the JSON type key
// holds in Config and runs the key's validation.
func ParseValue(key, value string) (any, error) {
	def, ok := knownKeys()[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	var typed any
	switch def.(type) {
	case float64:
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("%s: expected a number, got %q", key, value)
		}
		typed = f
	case bool:
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("%s: expected true or false, got %q", key, value)
		}
		typed = b
	case []any:
		list, err := parseList(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		typed = list
	default:
		typed = value
	}

	if check := checks[key]; check != nil {
		if err := check(typed); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
	}
	return typed, nil
}

// parseList accepts a JSON array or a comma-separated list.
func parseList(value string) ([]any, error) {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "[") {
		var list []any
		if err := json.Unmarshal([]byte(value), &list); err != nil {
			return nil, fmt.Errorf("parse list: %w", err)
		}
		return list, nil
	}
	list := []any{}
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list, nil
}
