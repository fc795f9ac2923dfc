package validation

import (
	"fmt"
	"unicode"

	"github.com/clincheck/clincheck/internal/domain/rules"
	"github.com/clincheck/clincheck/internal/platform/fhir"
)

// LintLayer flags hygiene problems that never block a record regardless of
// the severity it reports them with.
type LintLayer struct{}

func NewLintLayer() *LintLayer {
	return &LintLayer{}
}

func (l *LintLayer) Check(rec *fhir.Record) []rules.Finding {
	var findings []rules.Finding
	for _, inst := range rec.All() {
		findings = append(findings, lintResource(inst, inst.Resource, inst.Location())...)
	}
	return findings
}

func lintResource(inst fhir.ResourceInstance, obj map[string]interface{}, path string) []rules.Finding {
	var findings []rules.Finding
	for _, key := range fhir.SortedKeys(obj) {
		childPath := path + "." + key
		switch v := obj[key].(type) {
		case []interface{}:
			if len(v) == 0 {
				findings = append(findings, rules.Finding{
					Source:   rules.SourceLint,
					Severity: rules.SeverityError,
					Code:     "EMPTY_ARRAY",
					Path:     childPath,
					Message:  fmt.Sprintf("%s is present but empty; omit empty arrays", key),
				})
				continue
			}
			for _, item := range v {
				if m, ok := item.(map[string]interface{}); ok {
					findings = append(findings, lintResource(inst, m, childPath)...)
				}
			}
		case map[string]interface{}:
			findings = append(findings, lintCoding(key, childPath, v)...)
			findings = append(findings, lintResource(inst, v, childPath)...)
		}
	}
	return findings
}

func lintCoding(key, path string, obj map[string]interface{}) []rules.Finding {
	if key != "coding" && key != "code" {
		return nil
	}
	code, hasCode := obj["code"].(string)
	display, hasDisplay := obj["display"].(string)
	if hasCode && code != "" && !hasDisplay {
		return []rules.Finding{{
			Source:   rules.SourceLint,
			Severity: rules.SeverityWarning,
			Code:     "DISPLAY_MISSING",
			Path:     path,
			Message:  fmt.Sprintf("coding %q has no display text", code),
		}}
	}
	if hasDisplay && shouting(display) {
		return []rules.Finding{{
			Source:   rules.SourceLint,
			Severity: rules.SeverityWarning,
			Code:     "DISPLAY_UPPERCASE",
			Path:     path + ".display",
			Message:  fmt.Sprintf("display %q is all uppercase", display),
		}}
	}
	return nil
}

// shouting reports whether s contains letters and every one is uppercase.
func shouting(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if unicode.IsLower(r) {
				return false
			}
		}
	}
	return hasLetter
}

// SpecHintLayer suggests recommended elements from the schema tree that the
// record leaves unset. Hints are advisory only.
type SpecHintLayer struct {
	schemas *fhir.SchemaRegistry
}

func NewSpecHintLayer(schemas *fhir.SchemaRegistry) *SpecHintLayer {
	return &SpecHintLayer{schemas: schemas}
}

func (l *SpecHintLayer) Check(rec *fhir.Record) []rules.Finding {
	if l.schemas == nil {
		return nil
	}
	var findings []rules.Finding
	for _, inst := range rec.All() {
		tree, ok := l.schemas.SchemaFor(inst.ResourceType)
		if !ok {
			continue
		}
		for _, node := range tree.Root.Children {
			if !node.Recommended {
				continue
			}
			if values := rules.ExtractValues(inst.Resource, node.Name); !rules.ValuePresent(values) {
				findings = append(findings, rules.Finding{
					Source:   rules.SourceSpecHint,
					Severity: rules.SeverityInformation,
					Code:     "RECOMMENDED_ELEMENT_MISSING",
					Path:     inst.Location() + "." + node.Name,
					Message:  fmt.Sprintf("%s is recommended for %s resources", node.Name, inst.ResourceType),
				})
			}
		}
	}
	return findings
}
