package validation

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

type Violations struct {
	Errors map[string][]error
}

func (violations Violations) MarshalJSON() ([]byte, error) {
	errors := make(map[string][]string)
	for fieldName, fieldErrors := range violations.Errors {
		errors[fieldName] = make([]string, len(fieldErrors))
		for index, fieldError := range fieldErrors {
			errors[fieldName][index] = fieldError.Error()
		}
	}

	return json.Marshal(map[string]map[string][]string{
		"errors": errors,
	})
}

func (violations Violations) IsEmpty() bool {
	return len(violations.Errors) == 0
}

// Error lists the violations field by field so the value can travel as an
// error.
func (violations Violations) Error() string {
	fields := make([]string, 0, len(violations.Errors))
	for field := range violations.Errors {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var b strings.Builder
	b.WriteString("validation failed")
	for _, field := range fields {
		for _, err := range violations.Errors[field] {
			b.WriteString("; ")
			b.WriteString(err.Error())
		}
	}
	return b.String()
}

// ValidateMap checks data against rules. Every field in data needs rules
// and every field with rules is checked, present or not. Rules are written
// as "name" or "name:argument", e.g. "required", "email", "min:8".
func ValidateMap(data map[string]any, rules map[string][]string) Violations {
	var violations Violations
	violations.Errors = make(map[string][]error)

	for attributeName := range data {
		if _, attributeRulesExists := rules[attributeName]; !attributeRulesExists {
			violations.Errors[attributeName] = append(violations.Errors[attributeName], fmt.Errorf("validation: no rules found :: %s", attributeName))
		}
	}

	for attributeName, attributeRules := range rules {
		attributeValue := data[attributeName]

		var errorCollection []error
		for _, attributeRule := range attributeRules {
			if err := validate(attributeRule, attributeName, attributeValue); err != nil {
				errorCollection = append(errorCollection, err)
			}
		}

		if len(errorCollection) != 0 {
			violations.Errors[attributeName] = append(violations.Errors[attributeName], errorCollection...)
		}
	}

	return violations
}

func validate(rule string, name string, value any) error {
	rule, argument, _ := strings.Cut(rule, ":")

	if rule == "required" {
		if isEmpty(value) {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}

	// Optional fields that are absent pass every other rule.
	if isEmpty(value) {
		return nil
	}
	text := fmt.Sprint(value)

	switch rule {
	case "email":
		address, err := mail.ParseAddress(text)
		if err != nil || address.Address != text {
			return fmt.Errorf("%s must be an e-mail address", name)
		}
	case "min", "max":
		size, err := strconv.Atoi(argument)
		if err != nil {
			return fmt.Errorf("invalid validation rule :: %s", rule)
		}
		length := utf8.RuneCountInString(text)
		if rule == "min" && length < size {
			return fmt.Errorf("%s must be at least %d characters", name, size)
		}
		if rule == "max" && length > size {
			return fmt.Errorf("%s must be at most %d characters", name, size)
		}
	case "alphanumeric":
		for _, r := range text {
			if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
				return fmt.Errorf("%s must be alphanumeric", name)
			}
		}
	case "integer":
		if !ValidateInteger(text) {
			return fmt.Errorf("%s must be an integer", name)
		}
	case "boolean":
		if !ValidateBoolean(text) {
			return fmt.Errorf("%s must be a boolean", name)
		}
	case "gt", "gte", "lt", "lte":
		size, err := strconv.Atoi(argument)
		if err != nil {
			return fmt.Errorf("invalid validation rule :: %s", rule)
		}
		ok := map[string]func(string, int) bool{
			"gt":  ValidateGreaterThen,
			"gte": ValidateGreaterThenOrEqual,
			"lt":  ValidateLesserThen,
			"lte": ValidateLesserThenOrEqual,
		}[rule](text, size)
		if !ok {
			return fmt.Errorf("%s is out of range", name)
		}
	default:
		return fmt.Errorf("invalid validation rule :: %s", rule)
	}

	return nil
}

func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	}
	return false
}

// Numberic operations
func ValidateInteger(value string) bool {
	_, err := strconv.Atoi(value)
	return err == nil
}

func ValidateGreaterThen(value string, size int) bool {
	valueAsInt, err := strconv.Atoi(value)
	if err != nil {
		return false
	}

	return valueAsInt > size
}

func ValidateGreaterThenOrEqual(value string, size int) bool {
	valueAsInt, err := strconv.Atoi(value)
	if err != nil {
		return false
	}

	return valueAsInt >= size
}

func ValidateLesserThen(value string, size int) bool {
	valueAsInt, err := strconv.Atoi(value)
	if err != nil {
		return false
	}

	return valueAsInt < size
}

func ValidateLesserThenOrEqual(value string, size int) bool {
	valueAsInt, err := strconv.Atoi(value)
	if err != nil {
		return false
	}

	return valueAsInt <= size
}

// Boolean operations
func ValidateBoolean(value string) bool {
	return ValidateTrue(value) || ValidateFalse(value)
}

func ValidateTrue(value string) bool {
	return value == "1" || value == "true"
}

func ValidateFalse(value string) bool {
	return value == "0" || value == "false"
}
