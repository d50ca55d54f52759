package llm

import "strings"

// RepairJSON salvages a JSON object from a reply that ignored JSON mode:
// it strips markdown fences and cuts the text down to the outermost object.
// Returns the input unchanged when no object can be located; the caller's
// json.Valid check rejects it then.
func RepairJSON(content string) []byte {
	s := strings.TrimSpace(content)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return []byte(s)
}
