// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package toolindex

import (
	"sort"
	"strings"
	"unicode"
)

// Match tiers, best first.
const (
	tierExactName = iota
	tierNameSubstring
	tierDescription
	tierKeyword
	tierServer
	noMatch
)

// Search returns the entries matching keyword, case-insensitively, ranked
// by match quality: exact tool name, tool name substring, description or
// title substring, keyword, server name substring. Ties are ordered by
// server then tool. An empty keyword returns every entry.
func (x *Index) Search(keyword string) []Entry {
	q := strings.ToLower(strings.TrimSpace(keyword))
	if q == "" {
		return x.List()
	}

	type hit struct {
		tier  int
		entry *Entry
	}
	snap := x.current.Load()
	var hits []hit
	for i := range snap.entries {
		if tier := matchTier(&snap.entries[i], q); tier != noMatch {
			hits = append(hits, hit{tier: tier, entry: &snap.entries[i]})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].tier != hits[j].tier {
			return hits[i].tier < hits[j].tier
		}
		return entryLess(hits[i].entry, hits[j].entry)
	})

	out := make([]Entry, len(hits))
	for i, h := range hits {
		out[i] = h.entry.clone()
	}
	return out
}

func matchTier(e *Entry, q string) int {
	name := strings.ToLower(e.Tool)
	switch {
	case name == q:
		return tierExactName
	case strings.Contains(name, q):
		return tierNameSubstring
	case strings.Contains(strings.ToLower(e.Description), q),
		strings.Contains(strings.ToLower(e.Title), q):
		return tierDescription
	}
	for _, kw := range e.Keywords {
		if kw == q || strings.HasPrefix(kw, q) {
			return tierKeyword
		}
	}
	if strings.Contains(strings.ToLower(e.Server), q) {
		return tierServer
	}
	return noMatch
}

// keywords splits the tool name on separators and camelCase boundaries and
// adds the words of the title. The result is lower case, sorted and unique.
func keywords(name, title string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(w string) {
		w = strings.ToLower(w)
		if len(w) < 2 {
			return
		}
		if _, ok := seen[w]; ok {
			return
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}

	for _, part := range strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || r == '/' || unicode.IsSpace(r)
	}) {
		for _, w := range splitCamel(part) {
			add(w)
		}
	}
	for _, w := range strings.FieldsFunc(title, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		add(w)
	}
	sort.Strings(out)
	return out
}

// splitCamel splits "getHTTPServer" into "get", "HTTP", "Server".
func splitCamel(s string) []string {
	runes := []rune(s)
	var words []string
	start := 0
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		boundary := unicode.IsLower(prev) && unicode.IsUpper(cur) ||
			i+1 < len(runes) && unicode.IsUpper(prev) && unicode.IsUpper(cur) && unicode.IsLower(runes[i+1])
		if boundary {
			words = append(words, string(runes[start:i]))
			start = i
		}
	}
	return append(words, string(runes[start:]))
}
