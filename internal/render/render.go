// internal/render/render.go

// Package render substitutes template placeholders and runs the advisory
// preview validation checks.
package render

import (
	"fmt"
	"regexp"
	"strings"

	"notify-engine/internal/catalog"
	"notify-engine/internal/models"
	"notify-engine/internal/phone"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// Render substitutes {{key}} placeholders with params values. Unresolved
// placeholders are left in place so validation can surface them.
func Render(tmpl string, params map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := placeholderPattern.FindStringSubmatch(m)[1]
		if v, ok := params[key]; ok {
			return v
		}
		return m
	})
}

// Unresolved lists placeholder names still present in rendered text.
func Unresolved(text string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, 0, len(matches))
	seen := make(map[string]bool)
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// Validate runs the preview checks: recipient format, required parameters,
// unresolved placeholders, and max length. The result is advisory and never
// blocks operator approval.
func Validate(recipientKey, rendered string, tmpl catalog.Template, params map[string]string) models.ValidationResult {
	var errs []string

	if !phone.IsValid(recipientKey) {
		errs = append(errs, fmt.Sprintf("recipient %q is not a valid phone number or email", recipientKey))
	}

	for _, required := range tmpl.RequiredParams {
		if strings.TrimSpace(params[required]) == "" {
			errs = append(errs, fmt.Sprintf("required parameter %q is missing", required))
		}
	}

	for _, name := range Unresolved(rendered) {
		errs = append(errs, fmt.Sprintf("placeholder %q is unresolved", name))
	}

	if tmpl.MaxLength > 0 && len([]rune(rendered)) > tmpl.MaxLength {
		errs = append(errs, fmt.Sprintf("rendered content exceeds max length %d", tmpl.MaxLength))
	}

	return models.ValidationResult{Valid: len(errs) == 0, Errors: errs}
}
