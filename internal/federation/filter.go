package federation

// filterByWhitelist keeps only records whose path is present in whitelist
// (spec §4.1.3). An empty whitelist yields an empty result.
func filterByWhitelist(records []Record, whitelist []string) []Record {
	if len(whitelist) == 0 {
		return nil
	}
	allowed := make(map[string]bool, len(whitelist))
	for _, p := range whitelist {
		allowed[p] = true
	}
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if allowed[NormalizePath(r.Path)] {
			out = append(out, r)
		}
	}
	return out
}

// filterByTags keeps records where any of tagFilters appears in the
// record's tags or categories (spec §4.1.3). An empty tagFilters yields an
// empty result.
func filterByTags(records []Record, tagFilters []string) []Record {
	if len(tagFilters) == 0 {
		return nil
	}
	want := make(map[string]bool, len(tagFilters))
	for _, t := range tagFilters {
		want[t] = true
	}
	matches := func(values []string) bool {
		for _, v := range values {
			if want[v] {
				return true
			}
		}
		return false
	}
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if matches(r.Tags) || matches(r.Categories) {
			out = append(out, r)
		}
	}
	return out
}

// applySyncModeFilter narrows records fetched from a peer according to its
// configured sync_mode (spec §4.1.3). Unknown modes default to "all".
func applySyncModeFilter(cfg *PeerConfig, records []Record, whitelist []string) []Record {
	switch cfg.SyncMode {
	case SyncModeWhitelist:
		return filterByWhitelist(records, whitelist)
	case SyncModeTagFilter:
		return filterByTags(records, cfg.TagFilters)
	case SyncModeAll:
		return records
	default:
		return records
	}
}
