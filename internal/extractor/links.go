package extractor

import (
	"regexp"
	"strings"
)

// JoinIDs pulls the group identifiers out of raw page source by matching
// joinBase followed by the identifier, e.g. https://host/group/join/ABC_1.
// IDs are unique and keep first-seen order.
func JoinIDs(text, joinBase string) []string {
	if joinBase == "" {
		return nil
	}
	pattern := regexp.MustCompile(regexp.QuoteMeta(joinBase) + `([a-zA-Z0-9_-]+)`)

	seen := make(map[string]bool)
	var ids []string
	for _, m := range pattern.FindAllStringSubmatch(text, -1) {
		id := m[1]
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// InviteLinks maps group identifiers onto the invite base URL.
func InviteLinks(ids []string, inviteBase string) []string {
	links := make([]string, len(ids))
	for i, id := range ids {
		links[i] = strings.TrimRight(inviteBase, "/") + "/" + id
	}
	return links
}
