package uri

import "strings"

// QueryPair is one decoded query entry. Bare is true when the original
// string had the key with no "=" at all (a sentinel "present but empty"
// value), distinguishable from an explicit "key=" which decodes to
// Bare=false, Value="".
type QueryPair struct {
	Key   string
	Value string
	Bare  bool
}

// Query is an ordered multimap: keys may repeat, and insertion order is
// preserved on both parse and serialize.
type Query []QueryPair

// Get returns the first value for key and whether key was present at all.
func (q Query) Get(key string) (QueryPair, bool) {
	for _, p := range q {
		if p.Key == key {
			return p, true
		}
	}
	return QueryPair{}, false
}

// GetAll returns every pair matching key, in insertion order.
func (q Query) GetAll(key string) []QueryPair {
	var out []QueryPair
	for _, p := range q {
		if p.Key == key {
			out = append(out, p)
		}
	}
	return out
}

// Has reports whether key appears at all (bare or with a value).
func (q Query) Has(key string) bool {
	_, ok := q.Get(key)
	return ok
}

// Keys returns the distinct keys in first-occurrence order.
func (q Query) Keys() []string {
	seen := make(map[string]bool, len(q))
	var out []string
	for _, p := range q {
		if !seen[p.Key] {
			seen[p.Key] = true
			out = append(out, p.Key)
		}
	}
	return out
}

// With returns a copy of q with an additional key=value pair appended.
func (q Query) With(key, value string) Query {
	out := make(Query, len(q), len(q)+1)
	copy(out, q)
	return append(out, QueryPair{Key: key, Value: value})
}

// WithBare returns a copy of q with an additional bare (no "=") key
// appended.
func (q Query) WithBare(key string) Query {
	out := make(Query, len(q), len(q)+1)
	copy(out, q)
	return append(out, QueryPair{Key: key, Bare: true})
}

// Without returns a copy of q with every pair matching key removed.
func (q Query) Without(key string) Query {
	out := make(Query, 0, len(q))
	for _, p := range q {
		if p.Key != key {
			out = append(out, p)
		}
	}
	return out
}

func parseQuery(s string, base int) (Query, error) {
	if s == "" {
		return Query{}, nil
	}
	var out Query
	pos := 0
	for pos <= len(s) {
		end := strings.IndexByte(s[pos:], '&')
		var raw string
		if end == -1 {
			raw = s[pos:]
		} else {
			raw = s[pos : pos+end]
		}
		off := base + pos
		if raw != "" {
			eq := strings.IndexByte(raw, '=')
			if eq == -1 {
				key, err := pctDecode(raw, off)
				if err != nil {
					return nil, err
				}
				out = append(out, QueryPair{Key: key, Bare: true})
			} else {
				key, err := pctDecode(raw[:eq], off)
				if err != nil {
					return nil, err
				}
				val, err := pctDecode(raw[eq+1:], off+eq+1)
				if err != nil {
					return nil, err
				}
				out = append(out, QueryPair{Key: key, Value: val})
			}
		}
		if end == -1 {
			break
		}
		pos += end + 1
	}
	return out, nil
}

func (q Query) encode() string {
	parts := make([]string, len(q))
	for i, p := range q {
		k := pctEncode(p.Key, queryComponentSafe)
		if p.Bare {
			parts[i] = k
			continue
		}
		parts[i] = k + "=" + pctEncode(p.Value, queryComponentSafe)
	}
	return strings.Join(parts, "&")
}
