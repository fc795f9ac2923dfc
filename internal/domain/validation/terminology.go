package validation

import (
	"fmt"

	"github.com/clincheck/clincheck/internal/domain/rules"
	"github.com/clincheck/clincheck/internal/platform/fhir"
)

// CodeSystemIndex answers membership questions for terminology checking.
// KnownSystem reports whether the index carries the system at all; codes in
// unknown systems are not findings.
type CodeSystemIndex interface {
	KnownSystem(system string) bool
	ValidCode(system, code string) bool
}

// MapCodeIndex is an in-memory CodeSystemIndex keyed by system URL.
type MapCodeIndex map[string]map[string]bool

func (m MapCodeIndex) KnownSystem(system string) bool {
	_, ok := m[system]
	return ok
}

func (m MapCodeIndex) ValidCode(system, code string) bool {
	return m[system][code]
}

// TerminologyLayer checks every coding in the record against the index.
type TerminologyLayer struct {
	index CodeSystemIndex
}

func NewTerminologyLayer(index CodeSystemIndex) *TerminologyLayer {
	return &TerminologyLayer{index: index}
}

func (l *TerminologyLayer) Check(rec *fhir.Record) []rules.Finding {
	if l.index == nil {
		return nil
	}
	var findings []rules.Finding
	for _, inst := range rec.All() {
		for _, coding := range fhir.CollectCodings(inst.Resource) {
			if coding.System == "" || coding.Code == "" {
				continue
			}
			if !l.index.KnownSystem(coding.System) {
				continue
			}
			if !l.index.ValidCode(coding.System, coding.Code) {
				findings = append(findings, rules.Finding{
					Source:   rules.SourceTerminology,
					Severity: rules.SeverityError,
					Code:     "UNKNOWN_CODE",
					Path:     inst.Location() + "." + coding.Path,
					Message:  fmt.Sprintf("code %q is not a member of system %s", coding.Code, coding.System),
				})
			}
		}
	}
	return findings
}
