package executive

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

// Options map names to backend specific option values, passed to a Factory.
//
// Supported value types are string, int64, []int64, float32 and bool. Which keys are understood is backend
// specific, and unknown keys are ignored by the backends in this module.
type Options map[string]any

// Validate checks that all values are of a supported type.
func (o Options) Validate() error {
	for _, key := range o.Keys() {
		switch value := o[key].(type) {
		case string, int64, []int64, float32, bool:
			// Supported.
		default:
			return errors.Errorf("option %q was set to unsupported type %T (value=%v). "+
				"Only values of type string, int64, []int64, float32 and bool are supported.",
				key, value, value)
		}
	}
	return nil
}

// Keys returns the sorted keys.
func (o Options) Keys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetInt64 returns the value of key, or defaultValue if not set.
// It returns an error if the key is set to a value of another type.
func (o Options) GetInt64(key string, defaultValue int64) (int64, error) {
	v, found := o[key]
	if !found {
		return defaultValue, nil
	}
	i, ok := v.(int64)
	if !ok {
		return defaultValue, errors.Errorf("option %q must be an int64, got %T", key, v)
	}
	return i, nil
}

// GetString returns the value of key, or defaultValue if not set.
// It returns an error if the key is set to a value of another type.
func (o Options) GetString(key, defaultValue string) (string, error) {
	v, found := o[key]
	if !found {
		return defaultValue, nil
	}
	s, ok := v.(string)
	if !ok {
		return defaultValue, errors.Errorf("option %q must be a string, got %T", key, v)
	}
	return s, nil
}

// GetBool returns the value of key, or defaultValue if not set.
// It returns an error if the key is set to a value of another type.
func (o Options) GetBool(key string, defaultValue bool) (bool, error) {
	v, found := o[key]
	if !found {
		return defaultValue, nil
	}
	b, ok := v.(bool)
	if !ok {
		return defaultValue, errors.Errorf("option %q must be a bool, got %T", key, v)
	}
	return b, nil
}

// Format implements fmt.Formatter, printing the options sorted by key.
func (o Options) Format(f fmt.State, _ rune) {
	_, _ = fmt.Fprint(f, "{")
	for ii, key := range o.Keys() {
		if ii > 0 {
			_, _ = fmt.Fprint(f, ", ")
		}
		_, _ = fmt.Fprintf(f, "%s=%v", key, o[key])
	}
	_, _ = fmt.Fprint(f, "}")
}
