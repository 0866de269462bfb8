package retrieve

import (
	"net/url"
	"sort"
	"strings"
)

// fuse merges both paths: cross-source URL dedup, deterministic sort,
// relevance floor, then truncation to limit.
func fuse(db, web []ScoredChunk, limit int, minScore float64) []ScoredChunk {
	merged := dedup(db, web)

	sort.SliceStable(merged, func(i, j int) bool {
		return less(merged[i], merged[j])
	})

	out := make([]ScoredChunk, 0, min(limit, len(merged)))
	seen := make(map[string]bool, len(merged))
	for _, c := range merged {
		if len(out) == limit {
			break
		}
		if minScore > 0 && c.Score < minScore {
			// Sorted descending: nothing after this passes either.
			break
		}
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out
}

// less orders by score desc, database before web, rank asc, then ID.
func less(a, b ScoredChunk) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Source != b.Source {
		return a.Source == SourceDatabase
	}
	if a.Rank != b.Rank {
		return a.Rank < b.Rank
	}
	return a.ID < b.ID
}

// dedup keys web chunks by normalized URL and database chunks by ID. A
// database chunk whose source URL matches a web result joins that URL's
// group, so each shared URL yields exactly one entry.
func dedup(db, web []ScoredChunk) []ScoredChunk {
	webURLs := make(map[string]bool, len(web))
	for _, c := range web {
		if u := normalizeURL(c.Metadata.URL); u != "" {
			webURLs[u] = true
		}
	}

	index := make(map[string]int, len(db)+len(web))
	out := make([]ScoredChunk, 0, len(db)+len(web))

	add := func(key string, c ScoredChunk) {
		at, ok := index[key]
		if !ok {
			index[key] = len(out)
			out = append(out, c)
			return
		}
		kept, dropped := out[at], c
		if better(c, kept) {
			kept, dropped = c, out[at]
		}
		out[at] = mergeMetadata(kept, dropped)
	}

	for _, c := range db {
		key := "id:" + c.ID
		if u := normalizeURL(c.Metadata.URL); u != "" && webURLs[u] {
			key = "url:" + u
		}
		add(key, c)
	}
	for _, c := range web {
		key := "id:" + c.ID
		if u := normalizeURL(c.Metadata.URL); u != "" {
			key = "url:" + u
		}
		add(key, c)
	}
	return out
}

// better reports whether a should be kept over b for the same key:
// higher score, then database, then lower rank.
func better(a, b ScoredChunk) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Source != b.Source {
		return a.Source == SourceDatabase
	}
	return a.Rank < b.Rank
}

// mergeMetadata fills the kept chunk's empty metadata fields from the
// dropped one. Fields the kept chunk already has are never replaced.
func mergeMetadata(kept, dropped ScoredChunk) ScoredChunk {
	m := kept.Metadata
	if m.Title == "" {
		m.Title = dropped.Metadata.Title
	}
	if m.URL == "" {
		m.URL = dropped.Metadata.URL
	}
	if m.Snippet == "" {
		m.Snippet = dropped.Metadata.Snippet
	}
	if len(m.Authors) == 0 {
		m.Authors = dropped.Metadata.Authors
	}
	if m.Year == 0 {
		m.Year = dropped.Metadata.Year
	}
	kept.Metadata = m
	return kept
}

// normalizeURL canonicalises a link for comparison: https:// is assumed
// when the scheme is missing, scheme and host are lowercased, the
// fragment, default port and trailing slash are dropped. The result is
// "" for an empty link.
func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return strings.TrimRight(strings.ToLower(raw), "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	switch {
	case u.Scheme == "https" && strings.HasSuffix(u.Host, ":443"):
		u.Host = strings.TrimSuffix(u.Host, ":443")
	case u.Scheme == "http" && strings.HasSuffix(u.Host, ":80"):
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""

	return u.String()
}
