package validation

import (
	"fmt"
	"strings"

	"github.com/clincheck/clincheck/internal/domain/rules"
	"github.com/clincheck/clincheck/internal/platform/fhir"
)

// ReferenceLayer resolves intra-record references. A reference resolves when
// it matches an entry fullUrl (urn:uuid form) or a Type/id pair present in
// the record. External http(s) references and contained (#) references are
// out of scope and pass untouched.
type ReferenceLayer struct{}

func NewReferenceLayer() *ReferenceLayer {
	return &ReferenceLayer{}
}

func (l *ReferenceLayer) Check(rec *fhir.Record) []rules.Finding {
	targets := make(map[string]bool)
	for _, inst := range rec.All() {
		if inst.FullURL != "" {
			targets[inst.FullURL] = true
		}
		if id := inst.ID(); id != "" {
			targets[inst.ResourceType+"/"+id] = true
		}
	}

	var findings []rules.Finding
	for _, inst := range rec.All() {
		for _, ref := range fhir.CollectReferences(inst.Resource) {
			if !localReference(ref.Value) {
				continue
			}
			if !targets[ref.Value] {
				findings = append(findings, rules.Finding{
					Source:   rules.SourceReference,
					Severity: rules.SeverityError,
					Code:     "REFERENCE_NOT_FOUND",
					Path:     inst.Location() + "." + ref.Path,
					Message:  fmt.Sprintf("reference %q does not resolve within the record", ref.Value),
				})
			}
		}
	}
	return findings
}

func localReference(value string) bool {
	if value == "" || strings.HasPrefix(value, "#") {
		return false
	}
	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		return false
	}
	return true
}
