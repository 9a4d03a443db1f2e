// Package validation checks admin API input against pipe-separated rules.
//
//	v := validation.Make(map[string]string{"module": body.Module, "path": body.Path},
//	    validation.Rules{"module": "required|name", "path": "nullable|path"})
//	if v.Fails() {
//	    res.ValidationError(v.Errors()) // 422 {"errors": {"module": ["..."]}}
//	}
//
// Rules: required, nullable, sometimes, min:n, max:n, in:a,b, boolean,
// regex:pattern, name (module or id: letters, digits, '.', '_' and '-'),
// path (a route prefix starting with '/'), scope (App, Mod, Rou or Req).
// Rules run in order and stop at the first failure of a field.
package validation

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/km-arc/modgraph/framework/provider"
)

var (
	nameRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
	pathRe = regexp.MustCompile(`^/[A-Za-z0-9._~/{}:-]*$`)
)

// Errors collects messages per field.
// JSON output: {"errors": {"field": ["msg1", "msg2"]}}
type Errors struct {
	Bag map[string][]string `json:"errors"`
}

func (e *Errors) add(field, msg string) {
	if e.Bag == nil {
		e.Bag = make(map[string][]string)
	}
	e.Bag[field] = append(e.Bag[field], msg)
}

// Has returns true if there are any errors.
func (e *Errors) Has() bool { return len(e.Bag) > 0 }

// First returns the first error for a field.
func (e *Errors) First(field string) string {
	if msgs := e.Bag[field]; len(msgs) > 0 {
		return msgs[0]
	}
	return ""
}

// Rules maps a field to its pipe-separated rules.
type Rules map[string]string

// Validator validates a flat map of input values.
type Validator struct {
	data   map[string]string
	rules  Rules
	errors *Errors
	ran    bool
}

// Make creates a Validator.
func Make(data map[string]string, rules Rules) *Validator {
	return &Validator{data: data, rules: rules, errors: &Errors{}}
}

// Fails runs validation once and reports whether any rule failed.
func (v *Validator) Fails() bool {
	if !v.ran {
		v.validate()
		v.ran = true
	}
	return v.errors.Has()
}

// Passes is the opposite of Fails.
func (v *Validator) Passes() bool { return !v.Fails() }

// Errors returns the error bag.
func (v *Validator) Errors() *Errors { return v.errors }

func (v *Validator) validate() {
	fields := make([]string, 0, len(v.rules))
	for f := range v.rules {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, field := range fields {
		value := v.data[field]
		for _, rule := range strings.Split(v.rules[field], "|") {
			rule = strings.TrimSpace(rule)
			if rule == "" {
				continue
			}
			name, param, _ := strings.Cut(rule, ":")
			if !v.apply(field, value, name, param) {
				break
			}
		}
	}
}

// apply reports whether the remaining rules of field should run.
func (v *Validator) apply(field, value, rule, param string) bool {
	switch rule {
	case "required":
		if strings.TrimSpace(value) == "" {
			v.errors.add(field, fmt.Sprintf("The %s field is required.", field))
			return false
		}

	case "nullable", "sometimes":
		// An empty value skips the remaining rules.
		return value != ""

	case "min":
		n, _ := strconv.Atoi(param)
		if utf8.RuneCountInString(value) < n {
			v.errors.add(field, fmt.Sprintf("The %s must be at least %d characters.", field, n))
			return false
		}

	case "max":
		n, _ := strconv.Atoi(param)
		if utf8.RuneCountInString(value) > n {
			v.errors.add(field, fmt.Sprintf("The %s may not be greater than %d characters.", field, n))
			return false
		}

	case "in":
		for _, a := range strings.Split(param, ",") {
			if strings.TrimSpace(a) == value {
				return true
			}
		}
		v.errors.add(field, fmt.Sprintf("The selected %s is invalid.", field))
		return false

	case "boolean":
		if _, err := strconv.ParseBool(value); err != nil {
			v.errors.add(field, fmt.Sprintf("The %s field must be true or false.", field))
			return false
		}

	case "regex":
		re, err := regexp.Compile(param)
		if err != nil || !re.MatchString(value) {
			v.errors.add(field, fmt.Sprintf("The %s format is invalid.", field))
			return false
		}

	case "name":
		if !nameRe.MatchString(value) {
			v.errors.add(field, fmt.Sprintf("The %s may only contain letters, numbers, dots, dashes and underscores.", field))
			return false
		}

	case "path":
		if !pathRe.MatchString(value) {
			v.errors.add(field, fmt.Sprintf("The %s must be a route prefix starting with /.", field))
			return false
		}

	case "scope":
		if _, err := provider.ParseScope(value); err != nil {
			v.errors.add(field, fmt.Sprintf("The %s must be one of App, Mod, Rou or Req.", field))
			return false
		}

	default:
		v.errors.add(field, fmt.Sprintf("The %s has an unknown rule %q.", field, rule))
		return false
	}
	return true
}
