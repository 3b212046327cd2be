// -----------------------------------------------------------------------
// Variable references in the test case catalogue
// -----------------------------------------------------------------------

// Package common provides utility functions for {name} variable replacement.
//
// The {name} syntax lets catalogue values reference variables declared in the
// catalogue's [variables] table or in PAYRUN_VAR_* environment variables, so card
// numbers and base URLs stay out of the test case definitions.
//
// Example:
//
//	url = "{checkout_base}/pay"
//	value = "{visa_card}"
//
// Missing variables are logged as warnings and left in place. Values are never
// logged: they are often card data.
package common

import (
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strings"

	"github.com/ternarybob/arbor"
)

// VariableEnvPrefix prefixes environment variables that define catalogue variables.
// PAYRUN_VAR_VISA_CARD defines {visa_card}.
const VariableEnvPrefix = "PAYRUN_VAR_"

// keyRefPattern matches {name} references
// Allows alphanumeric characters, hyphens, and underscores
var keyRefPattern = regexp.MustCompile(`\{([a-zA-Z0-9_-]+)\}`)

// ReplaceKeyReferences replaces all {name} references in input with values from
// vars. Unknown references are left unchanged and logged.
func ReplaceKeyReferences(input string, vars map[string]string, logger arbor.ILogger) string {
	if input == "" || !strings.Contains(input, "{") {
		return input
	}

	return keyRefPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := match[1 : len(match)-1]
		if value, exists := vars[name]; exists {
			return value
		}
		logger.Warn().
			Str("reference", match).
			Msg("Unresolved variable reference - left unchanged")
		return match
	})
}

// VariablesFromEnv collects PAYRUN_VAR_* environment variables, keyed by the
// lower-cased remainder of the name
func VariablesFromEnv() map[string]string {
	vars := make(map[string]string)
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, VariableEnvPrefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(name, VariableEnvPrefix))
		if key != "" {
			vars[key] = value
		}
	}
	return vars
}

// MergeVariables returns base overlaid with override
func MergeVariables(base, override map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// ReplaceInStruct uses reflection to replace {name} references in a struct's
// string fields, recursing into nested structs, pointers, slices and
// map[string]string fields. v must be a struct pointer.
func ReplaceInStruct(v interface{}, vars map[string]string, logger arbor.ILogger) error {
	val := reflect.ValueOf(v)
	if val.Kind() != reflect.Ptr {
		return fmt.Errorf("ReplaceInStruct requires a pointer, got %T", v)
	}

	val = val.Elem()
	if val.Kind() != reflect.Struct {
		return fmt.Errorf("ReplaceInStruct requires a struct pointer, got pointer to %v", val.Kind())
	}

	replaceInValue(val, vars, logger)
	return nil
}

func replaceInValue(val reflect.Value, vars map[string]string, logger arbor.ILogger) {
	switch val.Kind() {
	case reflect.String:
		if val.CanSet() {
			if replaced := ReplaceKeyReferences(val.String(), vars, logger); replaced != val.String() {
				val.SetString(replaced)
			}
		}

	case reflect.Struct:
		for i := 0; i < val.NumField(); i++ {
			if field := val.Field(i); field.CanSet() {
				replaceInValue(field, vars, logger)
			}
		}

	case reflect.Ptr:
		if !val.IsNil() {
			replaceInValue(val.Elem(), vars, logger)
		}

	case reflect.Slice:
		for i := 0; i < val.Len(); i++ {
			replaceInValue(val.Index(i), vars, logger)
		}

	case reflect.Map:
		// Map values are not addressable; rewrite map[string]string entries
		if val.Type().Key().Kind() != reflect.String || val.Type().Elem().Kind() != reflect.String {
			return
		}
		for _, key := range val.MapKeys() {
			old := val.MapIndex(key).String()
			if replaced := ReplaceKeyReferences(old, vars, logger); replaced != old {
				val.SetMapIndex(key, reflect.ValueOf(replaced).Convert(val.Type().Elem()))
			}
		}
	}
}
