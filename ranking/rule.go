package ranking

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/poiesic/sift/core"
)

// RuleKind tags a ranking rule.
type RuleKind uint8

const (
	RuleWords RuleKind = iota
	RuleTypo
	RuleProximity
	RuleAttribute
	RuleExactness
	RuleVector
	RuleSort
	RuleCustom
)

var ruleNames = map[RuleKind]string{
	RuleWords:     "words",
	RuleTypo:      "typo",
	RuleProximity: "proximity",
	RuleAttribute: "attribute",
	RuleExactness: "exactness",
	RuleVector:    "vector",
	RuleSort:      "sort",
}

func (k RuleKind) String() string {
	if name, ok := ruleNames[k]; ok {
		return name
	}
	if k == RuleCustom {
		return "custom"
	}
	return fmt.Sprintf("rule(%d)", uint8(k))
}

// Rule is one stage of the ranking pipeline. Field, Descending and Geo
// parameterize the sort and custom kinds.
type Rule struct {
	Kind       RuleKind
	Field      string
	Descending bool

	// Geo is set for a distance sort around a point.
	Geo *core.GeoPoint
}

func (r Rule) String() string {
	switch r.Kind {
	case RuleSort, RuleCustom:
		if r.Field == "" && r.Geo == nil {
			return r.Kind.String()
		}
		dir := "asc"
		if r.Descending {
			dir = "desc"
		}
		if r.Geo != nil {
			return fmt.Sprintf("_geoPoint(%v,%v):%s", r.Geo.Lat, r.Geo.Lng, dir)
		}
		return r.Field + ":" + dir
	default:
		return r.Kind.String()
	}
}

// ParseRule parses a settings rule name, or a custom "field:asc" /
// "field:desc" rule.
func ParseRule(s string) (Rule, error) {
	s = strings.TrimSpace(s)
	for kind, name := range ruleNames {
		if s == name {
			return Rule{Kind: kind}, nil
		}
	}
	clause, err := ParseSort(s)
	if err != nil {
		return Rule{}, fmt.Errorf("%w: %w: ranking rule %q", core.ErrValidation, ErrInvalidRule, s)
	}
	clause.Kind = RuleCustom
	return clause, nil
}

// ParseRules parses a settings rule list.
func ParseRules(names []string) ([]Rule, error) {
	rules := make([]Rule, 0, len(names))
	for _, name := range names {
		r, err := ParseRule(name)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// ParseSort parses a query sort clause: "field:asc", "field:desc" or
// "_geoPoint(lat,lng):asc".
func ParseSort(s string) (Rule, error) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 {
		return Rule{}, fmt.Errorf("%w: %w: %q", core.ErrValidation, ErrInvalidSort, s)
	}
	target, dir := strings.TrimSpace(s[:i]), strings.ToLower(strings.TrimSpace(s[i+1:]))
	r := Rule{Kind: RuleSort}
	switch dir {
	case "asc":
	case "desc":
		r.Descending = true
	default:
		return Rule{}, fmt.Errorf("%w: %w: direction %q", core.ErrValidation, ErrInvalidSort, dir)
	}

	if args, ok := strings.CutPrefix(target, "_geoPoint("); ok {
		args, ok = strings.CutSuffix(args, ")")
		lat, lng, found := strings.Cut(args, ",")
		if !ok || !found {
			return Rule{}, fmt.Errorf("%w: %w: %q", core.ErrValidation, ErrInvalidSort, s)
		}
		latF, err1 := strconv.ParseFloat(strings.TrimSpace(lat), 64)
		lngF, err2 := strconv.ParseFloat(strings.TrimSpace(lng), 64)
		p := core.GeoPoint{Lat: latF, Lng: lngF}
		if err1 != nil || err2 != nil || !p.Valid() {
			return Rule{}, fmt.Errorf("%w: %w: invalid point in %q", core.ErrValidation, ErrInvalidSort, s)
		}
		r.Geo = &p
		return r, nil
	}
	if target == "" || strings.ContainsAny(target, "() ") {
		return Rule{}, fmt.Errorf("%w: %w: field %q", core.ErrValidation, ErrInvalidSort, target)
	}
	r.Field = target
	return r, nil
}

// Expand replaces the sort placeholder with the query's sort clauses, in
// order. Without clauses the placeholder is dropped.
func Expand(rules []Rule, sort []Rule) []Rule {
	out := make([]Rule, 0, len(rules)+len(sort))
	for _, r := range rules {
		if r.Kind == RuleSort && r.Field == "" && r.Geo == nil {
			out = append(out, sort...)
			continue
		}
		out = append(out, r)
	}
	return out
}
