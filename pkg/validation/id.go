// Copyright (C) 2026 Canary Commerce (eng@canarycommerce.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation for user-supplied values.
//
// Experiment and session identifiers end up in store keys and log lines, so
// they are restricted to a conservative character set before use. Fractions
// arriving from clients are range-checked here rather than deep inside the
// engine.
package validation

import (
	"fmt"
	"regexp"
)

// idPattern matches engine identifiers (experiment, session, product IDs).
// Allows letters, digits, underscores, dots and hyphens, 1-128 characters.
// Colons are deliberately excluded: they separate store key segments.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]{0,127}$`)

// ValidateID validates an engine identifier.
//
// Example:
//
//	if err := validation.ValidateID("experiment", req.ExperimentID); err != nil {
//	    return err
//	}
func ValidateID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%s id cannot be empty", kind)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("invalid %s id %q: must be 1-128 characters of letters, digits, '.', '_' or '-'", kind, id)
	}
	return nil
}

// ValidateFraction checks that a value is a fraction in [0, 1].
func ValidateFraction(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be in [0, 1], got %v", name, v)
	}
	return nil
}

// ValidateOpenFraction checks that a value lies strictly inside (0, 1).
func ValidateOpenFraction(name string, v float64) error {
	if v <= 0 || v >= 1 {
		return fmt.Errorf("%s must be in (0, 1), got %v", name, v)
	}
	return nil
}
