// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"encoding/json"
	"flag"
	"fmt"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// ScopeSeparator separates the scope from the parameter name in a setting, e.g.: "ctx/learning_rate=0.01".
const ScopeSeparator = "/"

// RootScope is the scope of the default values.
const RootScope = ""

// Settings holds hyperparameters with their default values, defined in the root scope, and
// optional values overridden for named scopes.
//
// The type of the default value defines how a setting given in the command-line is parsed.
type Settings struct {
	keys   []string // Keys in order of definition.
	values map[string]map[string]any
}

// NewSettings creates an empty Settings. Define the default values with Settings.Set.
func NewSettings() *Settings {
	return &Settings{values: map[string]map[string]any{RootScope: {}}}
}

// Set defines or replaces the default value of key in the root scope. It returns itself so
// calls can be cascaded.
func (s *Settings) Set(key string, value any) *Settings {
	return s.SetIn(RootScope, key, value)
}

// SetIn sets the value of key for the given scope.
func (s *Settings) SetIn(scope, key string, value any) *Settings {
	if !slices.Contains(s.keys, key) {
		s.keys = append(s.keys, key)
	}
	scoped, found := s.values[scope]
	if !found {
		scoped = make(map[string]any)
		s.values[scope] = scoped
	}
	scoped[key] = value
	return s
}

// Get returns the value of key in the scope, falling back to the root scope.
func (s *Settings) Get(scope, key string) (value any, found bool) {
	if value, found = s.values[scope][key]; found {
		return
	}
	value, found = s.values[RootScope][key]
	return
}

// GetOr returns the value of key in the scope converted to T, or defaultValue if it is not
// set or of a different type.
func GetOr[T any](s *Settings, scope, key string, defaultValue T) T {
	vAny, found := s.Get(scope, key)
	if !found {
		return defaultValue
	}
	v, ok := vAny.(T)
	if !ok {
		return defaultValue
	}
	return v
}

// Params returns all parameters as seen from the scope: the root values overridden by
// the ones set in the scope.
func (s *Settings) Params(scope string) map[string]any {
	p := make(map[string]any, len(s.keys))
	for _, key := range s.keys {
		if v, found := s.Get(scope, key); found {
			p[key] = v
		}
	}
	return p
}

// Scopes returns the sorted list of scopes with overridden values, not including the root.
func (s *Settings) Scopes() []string {
	scopes := make([]string, 0, len(s.values))
	for scope := range s.values {
		if scope != RootScope {
			scopes = append(scopes, scope)
		}
	}
	slices.Sort(scopes)
	return scopes
}

// ParseSettings from settings -- typically the contents of a flag set by the user.
// The settings are a list separated by ";": e.g.: "param1=value1;param2=value2;...".
//
// All the parameters "param1", "param2", etc. must be already set with default values
// in s. The default values are also used to set the type to which the
// string values will be parsed to.
//
// One can also provide a scope for the parameters: "ctx/learning_rate=0.1" will
// only change the learning rate seen by the "ctx" scope.
//
// For integer types, "_" is removed: it allows one to enter large numbers using it as a separator, like
// in Go. E.g.: 1_000_000 = 1000000. Slices of ints, floats and strings are given separated by ",".
func ParseSettings(s *Settings, settings string) error {
	for _, setting := range strings.Split(settings, ";") {
		setting = strings.TrimSpace(setting)
		if setting == "" {
			continue
		}
		parts := strings.Split(setting, "=")
		if len(parts) != 2 {
			return errors.Errorf("can't parse settings %q: each setting requires the format \"<param>=<value>\", got %q",
				settings, setting)
		}
		paramPath, valueStr := parts[0], parts[1]
		scope, key := RootScope, paramPath
		if idx := strings.LastIndex(paramPath, ScopeSeparator); idx >= 0 {
			scope, key = strings.Trim(paramPath[:idx], ScopeSeparator), paramPath[idx+1:]
		}
		defaultValue, found := s.values[RootScope][key]
		if !found {
			return errors.Errorf("can't set parameter %q because the param %q has no default value", paramPath, key)
		}
		value, err := parseValue(defaultValue, valueStr)
		if err != nil {
			return errors.WithMessagef(err, "failed to parse value %q for parameter %q (default value is %#v)",
				valueStr, paramPath, defaultValue)
		}
		s.SetIn(scope, key, value)
	}
	return nil
}

func parseValue(defaultValue any, valueStr string) (any, error) {
	var err error
	switch v := defaultValue.(type) {
	case int:
		err = json.Unmarshal([]byte(strings.ReplaceAll(valueStr, "_", "")), &v)
		return v, errors.WithStack(err)
	case int64:
		err = json.Unmarshal([]byte(strings.ReplaceAll(valueStr, "_", "")), &v)
		return v, errors.WithStack(err)
	case uint64:
		err = json.Unmarshal([]byte(strings.ReplaceAll(valueStr, "_", "")), &v)
		return v, errors.WithStack(err)
	case float64:
		err = json.Unmarshal([]byte(valueStr), &v)
		return v, errors.WithStack(err)
	case bool:
		err = json.Unmarshal([]byte(valueStr), &v)
		return v, errors.WithStack(err)
	case string:
		return valueStr, nil
	case []int:
		return parseList[int](valueStr, true)
	case []float64:
		return parseList[float64](valueStr, false)
	case []string:
		if valueStr == "" {
			return []string{}, nil
		}
		return strings.Split(valueStr, ","), nil
	default:
		return nil, errors.Errorf("don't know how to parse type %T", defaultValue)
	}
}

func parseList[T int | float64](valueStr string, removeUnderscores bool) ([]T, error) {
	if valueStr == "" {
		return []T{}, nil
	}
	parts := strings.Split(valueStr, ",")
	list := make([]T, len(parts))
	for ii, part := range parts {
		part = strings.TrimSpace(part)
		if removeUnderscores {
			part = strings.ReplaceAll(part, "_", "")
		}
		if err := json.Unmarshal([]byte(part), &list[ii]); err != nil {
			return nil, errors.Wrapf(err, "element #%d (%q) of list", ii, part)
		}
	}
	return list, nil
}

// CreateSettingsFlag creates a string flag with the given flagName (if empty it will be named
// "set") and with a description of the current defined parameters in s.
//
// The flag should be created before the call to `flags.Parse()`.
//
// Example usage:
//
//	func main() {
//		settings := createDefaultSettings()
//		settingsFlag := commandline.CreateSettingsFlag(settings, "")
//		flag.Parse()
//		must.M(commandline.ParseSettings(settings, *settingsFlag))
//		fmt.Println(commandline.SprintSettings(settings))
//		...
//	}
func CreateSettingsFlag(s *Settings, flagName string) *string {
	return CreateSettingsFlagIn(flag.CommandLine, s, flagName)
}

// CreateSettingsFlagIn is like CreateSettingsFlag, but creates the flag in the given flag.FlagSet.
func CreateSettingsFlagIn(flags *flag.FlagSet, s *Settings, flagName string) *string {
	if flagName == "" {
		flagName = "set"
	}
	var parts []string
	parts = append(parts, fmt.Sprintf(
		`Set hyperparameters. `+
			`It should be a list of elements "param=value" separated by ";". `+
			`Scoped settings are allowed, by using %q to separate the scope. `+
			`Current available parameters that can be set:`,
		ScopeSeparator))
	for _, key := range s.keys {
		if value, found := s.values[RootScope][key]; found {
			parts = append(parts, fmt.Sprintf("%q: default value is %v", key, value))
		}
	}
	usage := strings.Join(parts, "\n")
	var settings string
	flags.StringVar(&settings, flagName, "", usage)
	return &settings
}

// SprintSettings pretty-print values for the current hyperparameters settings into a string.
func SprintSettings(s *Settings) string {
	var parts []string
	parts = append(parts, "Hyperparameters:")
	for _, key := range s.keys {
		if value, found := s.values[RootScope][key]; found {
			parts = append(parts, fmt.Sprintf("%q: (%T) %v", key, value, value))
		}
	}
	for _, scope := range s.Scopes() {
		for _, key := range s.keys {
			if value, found := s.values[scope][key]; found {
				parts = append(parts, fmt.Sprintf("%q / %q: (%T) %v", scope, key, value, value))
			}
		}
	}
	return strings.Join(parts, "\n\t")
}
