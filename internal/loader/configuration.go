package loader

import (
	"fmt"
	"strconv"
	"strings"
)

// Configuration is the loaded shape of one config.*.yaml file, §3.4:
// an id/provider tag, a version string, and a nested value tree
// accessible by dotted path with typed extraction.
type Configuration struct {
	ID       string
	Provider string
	Version  string
	Values   map[string]any
}

// lookup walks a dotted path ("a.b.c") through nested maps.
func (c *Configuration) lookup(path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = c.Values
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// GetString extracts a string value at path.
func (c *Configuration) GetString(path string) (string, error) {
	v, ok := c.lookup(path)
	if !ok {
		return "", fmt.Errorf("configuration %q: no value at %q", c.ID, path)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("configuration %q: value at %q is %T, not string", c.ID, path, v)
	}
	return s, nil
}

// GetBool extracts a bool value at path.
func (c *Configuration) GetBool(path string) (bool, error) {
	v, ok := c.lookup(path)
	if !ok {
		return false, fmt.Errorf("configuration %q: no value at %q", c.ID, path)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("configuration %q: value at %q is %T, not bool", c.ID, path, v)
	}
	return b, nil
}

// GetInt extracts an integer value at path.
func (c *Configuration) GetInt(path string) (int, error) {
	v, ok := c.lookup(path)
	if !ok {
		return 0, fmt.Errorf("configuration %q: no value at %q", c.ID, path)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("configuration %q: value at %q is not an integer: %w", c.ID, path, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("configuration %q: value at %q is %T, not integer", c.ID, path, v)
	}
}

// GetFloat extracts a float value at path.
func (c *Configuration) GetFloat(path string) (float64, error) {
	v, ok := c.lookup(path)
	if !ok {
		return 0, fmt.Errorf("configuration %q: no value at %q", c.ID, path)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("configuration %q: value at %q is %T, not float", c.ID, path, v)
	}
}
