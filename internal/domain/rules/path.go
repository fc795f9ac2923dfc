package rules

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// storedSegment matches one canonical path segment: an identifier with an
// optional wildcard marker.
var storedSegment = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\[\*\])?$`)

// CheckStoredPath verifies a path is in canonical stored form: dot-separated
// identifier segments, optionally suffixed "[*]". Resource-type prefixes,
// concrete indices and embedded where clauses are rejected; they are
// modeled structurally, not textually.
func CheckStoredPath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	if strings.Contains(path, "where(") {
		return fmt.Errorf("path %q embeds a where clause; use a scope filter instead", path)
	}
	if strings.Contains(path, ".count()") || strings.Contains(path, ".exists()") {
		return fmt.Errorf("path %q embeds a function call", path)
	}
	segments := strings.Split(path, ".")
	for i, seg := range segments {
		if !storedSegment.MatchString(seg) {
			if concreteIndex.MatchString(seg) {
				return fmt.Errorf("path %q embeds a concrete index; use an instance scope instead", path)
			}
			return fmt.Errorf("path %q has an invalid segment %q", path, seg)
		}
		if i == 0 && unicode.IsUpper(rune(seg[0])) {
			return fmt.Errorf("path %q starts with a resource-type prefix; paths are resource-relative", path)
		}
	}
	return nil
}

// concreteIndex matches a "[n]" marker with a numeric index.
var concreteIndex = regexp.MustCompile(`\[\d+\]`)

// NormalizePath canonicalizes a path expression: it strips a leading
// resourceType segment, trailing .count()/.exists() calls and embedded
// .where(...) clauses, and collapses concrete "[n]" indices while keeping
// "[*]" wildcards. It is a pure string rewrite and idempotent.
func NormalizePath(path, resourceType string) string {
	p := strings.TrimSpace(path)

	for {
		if strings.HasSuffix(p, ".count()") {
			p = strings.TrimSuffix(p, ".count()")
			continue
		}
		if strings.HasSuffix(p, ".exists()") {
			p = strings.TrimSuffix(p, ".exists()")
			continue
		}
		break
	}

	p = stripWhereClauses(p)
	p = concreteIndex.ReplaceAllString(p, "")

	if resourceType != "" {
		if p == resourceType {
			return ""
		}
		p = strings.TrimPrefix(p, resourceType+".")
	}
	return p
}

// stripWhereClauses removes every ".where(...)" (or leading "where(...)")
// clause, honoring nested parentheses inside the predicate.
func stripWhereClauses(p string) string {
	for {
		idx := strings.Index(p, "where(")
		if idx < 0 {
			return p
		}
		start := idx
		if start > 0 && p[start-1] == '.' {
			start--
		}
		depth := 0
		end := -1
		for i := idx + len("where("); i < len(p) && end < 0; i++ {
			switch p[i] {
			case '(':
				depth++
			case ')':
				if depth == 0 {
					end = i
				} else {
					depth--
				}
			}
		}
		if end < 0 {
			// Unbalanced clause; drop the rest of the string.
			return p[:start]
		}
		p = p[:start] + p[end+1:]
	}
}

// IsExactMatch reports whether two normalized paths are identical.
func IsExactMatch(rulePath, targetPath string) bool {
	return rulePath == targetPath
}

// IsWildcardMatch reports whether a wildcard rule path covers a concrete
// target path. The relation is asymmetric: the rule must carry the "[*]"
// marker and the target must not.
func IsWildcardMatch(rulePath, targetPath string) bool {
	if !strings.Contains(rulePath, "[*]") || strings.Contains(targetPath, "[*]") {
		return false
	}
	return strings.ReplaceAll(rulePath, "[*]", "") == targetPath
}

// IsParentMatch reports whether the rule path is a strict ancestor of the
// target path: the target starts with the rule path plus a dot.
func IsParentMatch(rulePath, targetPath string) bool {
	return strings.HasPrefix(targetPath, rulePath+".")
}

// MatchKind ranks the strength of a path match. Higher values win.
type MatchKind int

const (
	MatchNone MatchKind = iota
	MatchParent
	MatchWildcard
	MatchExact
)

func (k MatchKind) String() string {
	switch k {
	case MatchExact:
		return "exact"
	case MatchWildcard:
		return "wildcard"
	case MatchParent:
		return "parent"
	}
	return "none"
}

// MatchStrength classifies how a normalized rule path covers a normalized
// target path.
func MatchStrength(rulePath, targetPath string) MatchKind {
	switch {
	case IsExactMatch(rulePath, targetPath):
		return MatchExact
	case IsWildcardMatch(rulePath, targetPath):
		return MatchWildcard
	case IsParentMatch(rulePath, targetPath):
		return MatchParent
	}
	return MatchNone
}

// MatchBestRule selects the rule covering targetPath under the priority
// exact > wildcard > parent. The rule slice order is a contract: within one
// strength the first rule in set order wins, and a weaker match on an
// earlier rule never beats a stronger match on a later one.
func MatchBestRule(orderedRules []Rule, targetPath string) (*Rule, MatchKind) {
	target := NormalizePath(targetPath, "")
	best := MatchNone
	var found *Rule
	for i := range orderedRules {
		r := &orderedRules[i]
		if r.FieldPath == "" {
			continue
		}
		kind := MatchStrength(NormalizePath(r.FieldPath, r.ResourceType), target)
		if kind > best {
			best = kind
			found = r
			if best == MatchExact {
				break
			}
		}
	}
	return found, best
}
