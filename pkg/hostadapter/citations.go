package hostadapter

import "sort"

func evidenceDocumentID(record map[string]any) string {
	if prov, ok := record["provenance"].(map[string]any); ok {
		if s, ok := prov["source_identifier"].(string); ok && s != "" {
			return s
		}
	}
	if s, ok := record["id"].(string); ok {
		return s
	}
	return ""
}

func evidenceScore(record map[string]any) float64 {
	if f, ok := record["score"].(float64); ok {
		return f
	}
	return 0
}

// CitationToEvidenceMap resolves the host's citation numbers to evidence
// record ids. Citations name documents; when several evidence records cover
// the same document the highest-scored record wins, with the lexically
// lowest id breaking ties so the mapping is deterministic.
func CitationToEvidenceMap(citations map[int]string, evidence []map[string]any) map[int]string {
	best := make(map[string]map[string]any)
	for _, record := range evidence {
		docID := evidenceDocumentID(record)
		if docID == "" {
			continue
		}
		current, ok := best[docID]
		if !ok {
			best[docID] = record
			continue
		}
		switch {
		case evidenceScore(record) > evidenceScore(current):
			best[docID] = record
		case evidenceScore(record) == evidenceScore(current):
			id, _ := record["id"].(string)
			currentID, _ := current["id"].(string)
			if id < currentID {
				best[docID] = record
			}
		}
	}

	mapped := make(map[int]string, len(citations))
	numbers := make([]int, 0, len(citations))
	for n := range citations {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	for _, n := range numbers {
		if record, ok := best[citations[n]]; ok {
			if id, _ := record["id"].(string); id != "" {
				mapped[n] = id
			}
		}
	}
	return mapped
}
