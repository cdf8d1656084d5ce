// Package redact scrubs sensitive values (SSNs, card and account numbers,
// phone numbers, emails, dates of birth, medical record numbers) from free
// text before it is persisted or logged.
package redact

import (
	"sort"
	"strings"
)

type Request struct {
	Content   string     `json:"content"`
	DataTypes []DataType `json:"data_types"`
	TenantID  string     `json:"tenant_id"`
	CallID    string     `json:"call_id,omitempty"`
}

// Item describes one replaced value. Position is a byte offset into the
// original content.
type Item struct {
	Type        DataType `json:"type"`
	Original    string   `json:"original"`
	Position    int      `json:"position"`
	Replacement string   `json:"replacement"`
}

type Result struct {
	RedactedContent string `json:"redacted_content"`
	RedactedItems   []Item `json:"redacted_items"`
	OriginalLength  int    `json:"original_length"`
	RedactedLength  int    `json:"redacted_length"`
}

type Context struct {
	Industry string
	TenantID string
	CallID   string
}

// maxPasses bounds the fixpoint loop. Every replacement removes at least one
// digit or '@', so real inputs settle in one or two passes.
const maxPasses = 8

// Redact replaces every match of the requested detectors. An empty type list
// means PII.
//
// Each pattern scans the partially redacted text, so overlapping matches
// resolve to whichever detector ran first, and passes repeat until nothing
// requested is left to find.
func Redact(req Request) Result {
	types := req.DataTypes
	if len(types) == 0 {
		types = []DataType{PII}
	}
	wanted := Expand(types)

	r := newRewriter(req.Content)
	for pass := 0; pass < maxPasses; pass++ {
		changed := false
		for _, d := range detectors {
			if !contains(wanted, d.typ) {
				continue
			}
			for _, re := range d.patterns {
				out := r.output()
				for _, loc := range re.FindAllStringIndex(out, -1) {
					if alreadyRedacted(out[loc[0]:loc[1]]) {
						continue
					}
					if r.replace(loc[0], loc[1], d.typ, d.placeholder) {
						changed = true
					}
				}
				r.rebuild()
			}
		}
		if !changed {
			break
		}
	}

	out := r.output()
	items := r.items()
	return Result{
		RedactedContent: out,
		RedactedItems:   items,
		OriginalLength:  len(req.Content),
		RedactedLength:  len(out),
	}
}

// RedactWithContext picks categories by industry: healthcare gets PHI and
// PII, insurance and finance get PCI and PII, everything else PII.
func RedactWithContext(content string, c Context) Result {
	return Redact(Request{
		Content:   content,
		DataTypes: CategoriesFor(c.Industry),
		TenantID:  c.TenantID,
		CallID:    c.CallID,
	})
}

func CategoriesFor(industry string) []DataType {
	switch strings.ToLower(strings.TrimSpace(industry)) {
	case "healthcare":
		return []DataType{PHI, PII}
	case "insurance", "finance":
		return []DataType{PCI, PII}
	default:
		return []DataType{PII}
	}
}

// Detect returns the concrete types found in content followed by the
// categories they imply.
func Detect(content string) []DataType {
	found := make(map[DataType]bool)
	var out []DataType
	for _, d := range detectors {
		if hasMatch(content, d) {
			found[d.typ] = true
			out = append(out, d.typ)
		}
	}
	for _, c := range categoryOrder {
		for _, m := range categories[c] {
			if found[m] {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

type Validation struct {
	Valid bool `json:"valid"`
	// Leaked lists types detected in both the original and the redacted text.
	Leaked []DataType `json:"leaked,omitempty"`
}

// Validate fails when a sensitive type found in original is still detectable
// in redacted. When types are given the comparison is limited to them and
// their expansion.
func Validate(original, redacted string, types ...DataType) Validation {
	var scope map[DataType]bool
	if len(types) > 0 {
		scope = make(map[DataType]bool)
		for _, t := range types {
			scope[t] = true
		}
		for _, t := range Expand(types) {
			scope[t] = true
		}
	}

	before := make(map[DataType]bool)
	for _, t := range Detect(original) {
		before[t] = true
	}
	var leaked []DataType
	for _, t := range Detect(redacted) {
		if !before[t] {
			continue
		}
		if scope != nil && !scope[t] {
			continue
		}
		leaked = append(leaked, t)
	}
	return Validation{Valid: len(leaked) == 0, Leaked: leaked}
}

func hasMatch(s string, d detector) bool {
	for _, re := range d.patterns {
		for _, loc := range re.FindAllStringIndex(s, -1) {
			if !alreadyRedacted(s[loc[0]:loc[1]]) {
				return true
			}
		}
	}
	return false
}

// alreadyRedacted guards against re-masking values that carry a placeholder
// or asterisk masking.
func alreadyRedacted(match string) bool {
	if strings.Contains(match, "[REDACTED]") || strings.Contains(match, "***") {
		return true
	}
	return match != "" && strings.Trim(match, "*") == ""
}

func contains(ts []DataType, t DataType) bool {
	for _, x := range ts {
		if x == t {
			return true
		}
	}
	return false
}

// rewriter keeps replaced spans in original coordinates and renders the
// current output from them.
type rewriter struct {
	original string
	spans    []span // sorted by start, non-overlapping
	pending  []span
	out      string
	segs     []segment
}

type span struct {
	start, end  int // original offsets
	typ         DataType
	placeholder string
}

// segment maps a run of output bytes back to the original.
type segment struct {
	outStart, outEnd int
	origStart        int
	placeholder      bool
}

func newRewriter(original string) *rewriter {
	r := &rewriter{original: original}
	r.rebuild()
	return r
}

func (r *rewriter) output() string { return r.out }

// replace queues the output range [s, e) for replacement. Ranges touching a
// placeholder are refused.
func (r *rewriter) replace(s, e int, typ DataType, placeholder string) bool {
	for _, seg := range r.segs {
		if s >= seg.outStart && s < seg.outEnd {
			if seg.placeholder || e > seg.outEnd {
				return false
			}
			start := seg.origStart + (s - seg.outStart)
			r.pending = append(r.pending, span{start: start, end: start + (e - s), typ: typ, placeholder: placeholder})
			return true
		}
	}
	return false
}

func (r *rewriter) rebuild() {
	if len(r.pending) > 0 {
		r.spans = append(r.spans, r.pending...)
		r.pending = r.pending[:0]
		sort.Slice(r.spans, func(i, j int) bool { return r.spans[i].start < r.spans[j].start })
	}

	var b strings.Builder
	r.segs = r.segs[:0]
	cursor := 0
	emit := func(text string, origStart int, placeholder bool) {
		if text == "" {
			return
		}
		start := b.Len()
		b.WriteString(text)
		r.segs = append(r.segs, segment{outStart: start, outEnd: b.Len(), origStart: origStart, placeholder: placeholder})
	}
	for _, sp := range r.spans {
		emit(r.original[cursor:sp.start], cursor, false)
		emit(sp.placeholder, sp.start, true)
		cursor = sp.end
	}
	emit(r.original[cursor:], cursor, false)
	r.out = b.String()
}

// items returns replacements sorted by descending original offset.
func (r *rewriter) items() []Item {
	out := make([]Item, 0, len(r.spans))
	for _, sp := range r.spans {
		out = append(out, Item{
			Type:        sp.typ,
			Original:    r.original[sp.start:sp.end],
			Position:    sp.start,
			Replacement: sp.placeholder,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position > out[j].Position })
	return out
}
