// Package template assembles generation prompts from task templates and a
// bundle of named context values resolved against the record store.
//
// Marker syntax inside a template:
//
//	{Name}             plain marker, replaced by the resolved value
//	{prefix text|Name} conditional marker: emits the prefix followed by the
//	                   value only when the value is non-empty, nothing
//	                   otherwise
//
// Missing or empty context never fails resolution; optional context degrades
// to empty output. A malformed marker (unterminated brace) is a validation
// error.
package template

import (
	"context"
	"fmt"
	"strings"

	"storyloom/internal/config"
	"storyloom/internal/domain"
)

// Resolver substitutes context values into task templates. It is read-only
// with respect to the record store: values pull from repositories but nothing
// here writes.
type Resolver struct{}

// NewResolver creates a new template resolver
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve scans the template for markers and substitutes values from the
// bundle. Names absent from the bundle resolve to empty.
func (r *Resolver) Resolve(ctx context.Context, tmpl string, bundle Bundle) (string, error) {
	if len(tmpl) > config.MaxTemplateLength {
		return "", fmt.Errorf("%w: template exceeds %d bytes", domain.ErrValidation, config.MaxTemplateLength)
	}

	var out strings.Builder
	rest := tmpl
	for {
		open := strings.IndexByte(rest, '{')
		if open == -1 {
			out.WriteString(rest)
			return out.String(), nil
		}
		out.WriteString(rest[:open])
		rest = rest[open+1:]

		closeIdx := strings.IndexByte(rest, '}')
		if closeIdx == -1 {
			return "", fmt.Errorf("%w: unterminated template marker", domain.ErrValidation)
		}
		marker := rest[:closeIdx]
		rest = rest[closeIdx+1:]

		resolved, err := r.resolveMarker(ctx, marker, bundle)
		if err != nil {
			return "", err
		}
		out.WriteString(resolved)
	}
}

// resolveMarker resolves one marker body (text between braces).
func (r *Resolver) resolveMarker(ctx context.Context, marker string, bundle Bundle) (string, error) {
	// The variable name follows the last '|' so the literal prefix may
	// itself contain pipes.
	prefix, name := "", marker
	if i := strings.LastIndexByte(marker, '|'); i != -1 {
		prefix, name = marker[:i], marker[i+1:]
	}

	if name == "" {
		return "", fmt.Errorf("%w: template marker %q has no variable name", domain.ErrValidation, "{"+marker+"}")
	}

	value, err := bundle.Lookup(ctx, name)
	if err != nil {
		return "", err
	}
	if value == "" {
		// Both forms vanish on empty: the plain marker substitutes nothing
		// and the conditional marker swallows its prefix too.
		return "", nil
	}

	return prefix + value, nil
}
