// Package validation runs the layered validation pipeline over a record and
// aggregates the findings of every layer into a single report with a
// blocking verdict.
package validation

import "github.com/clincheck/clincheck/internal/domain/rules"

// blockingCapable lists the sources whose findings may block a record.
// Advisory sources are absent from the map so an unknown source defaults to
// non-blocking.
var blockingCapable = map[rules.Source]bool{
	rules.SourceStructural:  true,
	rules.SourceBusiness:    true,
	rules.SourceTerminology: true,
	rules.SourceReference:   true,
}

// BlockingCapable reports whether findings from the source may block.
func BlockingCapable(s rules.Source) bool {
	return blockingCapable[s]
}

// IsBlocking applies the blocking formula: a finding blocks when its source
// is blocking-capable and its severity is anything other than warning.
func IsBlocking(f rules.Finding) bool {
	return f.Severity != rules.SeverityWarning && blockingCapable[f.Source]
}
