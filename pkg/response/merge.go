package response

// Merge reconciles src into r and returns the number of records r holds
// afterwards.
//
// Policy, in order:
//   - r is authoritative: nothing changes.
//   - src is authoritative: r and src exchange their entire content. r becomes
//     src's former state (hash, records, signature) and src receives r's.
//   - neither is authoritative: for each src record, a strictly newer
//     timestamp replaces r's record of the same protocol, ties keep r's, and
//     unknown protocols are copied in. Protocols only r holds follow the
//     src-ordered results. r's hash is kept.
//
// src is left unmodified except in the exchange case. Records copied from src
// are deep copies.
func (r *Response) Merge(src *Response) int {
	if r == nil {
		return 0
	}
	if src == nil || r.IsAuthoritative() {
		return len(r.records)
	}
	if src.IsAuthoritative() {
		*r, *src = *src, *r
		return len(r.records)
	}

	merged := make([]*Record, 0, len(src.records)+len(r.records))
	placed := make(map[uint16]int, cap(merged))

	for _, incoming := range src.records {
		if _, seen := placed[incoming.Protocol]; seen {
			continue
		}
		winner := incoming
		if i, ok := r.index[incoming.Protocol]; ok {
			current := r.records[i]
			if incoming.Timestamp <= current.Timestamp {
				winner = current
			}
		}
		placed[winner.Protocol] = len(merged)
		merged = append(merged, winner.clone())
	}

	for _, rec := range r.records {
		if _, ok := placed[rec.Protocol]; ok {
			continue
		}
		placed[rec.Protocol] = len(merged)
		merged = append(merged, rec)
	}

	r.records = merged
	r.index = placed
	return len(merged)
}

// MergedCount is the number of records r would hold after r.Merge(src),
// computed without modifying either side.
func (r *Response) MergedCount(src *Response) int {
	switch {
	case r == nil:
		return 0
	case src == nil || r.IsAuthoritative():
		return len(r.records)
	case src.IsAuthoritative():
		return len(src.records)
	}
	n := len(r.records)
	seen := make(map[uint16]struct{}, len(src.records))
	for _, rec := range src.records {
		if _, dup := seen[rec.Protocol]; dup {
			continue
		}
		seen[rec.Protocol] = struct{}{}
		if _, ok := r.index[rec.Protocol]; !ok {
			n++
		}
	}
	return n
}
