// Package source provides scalar value sources for monitored signals.
// A source yields one numeric sample per call; everything about when
// and how often it is called belongs to the monitor.
package source

import (
	"context"
	"fmt"
	"regexp"
)

// Source yields one scalar observation on demand.
type Source interface {
	// Name identifies the source in logs, metrics, and the API.
	Name() string
	// FetchScalar returns the current value of the monitored signal.
	FetchScalar(ctx context.Context) (float64, error)
	// Close releases any underlying resources.
	Close() error
}

// identPattern accepts plain and schema-qualified SQL identifiers.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$.]*$`)

// CountQuery builds a COUNT query for the given table and optional
// column, validating both as identifiers so a settings file cannot
// smuggle arbitrary SQL through the derivation path.
func CountQuery(table, column string) (string, error) {
	if !identPattern.MatchString(table) {
		return "", fmt.Errorf("invalid table identifier: %q", table)
	}
	if column == "" {
		return fmt.Sprintf("SELECT COUNT(*) FROM %s", table), nil
	}
	if !identPattern.MatchString(column) {
		return "", fmt.Errorf("invalid column identifier: %q", column)
	}
	return fmt.Sprintf("SELECT COUNT(%s) FROM %s", column, table), nil
}
