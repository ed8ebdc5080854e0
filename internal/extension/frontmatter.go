package extension

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// splitFrontmatter separates an optional YAML frontmatter block from the
// markdown body. Documents without a leading "---" line have no frontmatter
// and are returned whole as the body.
func splitFrontmatter(raw string) (frontmatter, body string) {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	if !strings.HasPrefix(normalized, "---\n") {
		return "", normalized
	}
	rest := normalized[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return "", normalized
	}
	frontmatter = rest[:end]
	body = rest[end+len("\n---"):]
	body = strings.TrimPrefix(body, "\n")
	return frontmatter, body
}

// decodeFrontmatter unmarshals a frontmatter block into out. A missing or
// malformed block is not an error; the document is still usable as plain
// markdown.
func decodeFrontmatter(frontmatter string, out any) {
	if frontmatter == "" {
		return
	}
	_ = yaml.Unmarshal([]byte(frontmatter), out)
}

// stringOrList accepts both YAML scalar and sequence forms for list-valued
// frontmatter fields such as allowed-tools.
type stringOrList []string

func (s *stringOrList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return err
		}
		*s = items
	default:
		var single string
		if err := value.Decode(&single); err != nil {
			return err
		}
		for _, part := range strings.Split(single, ",") {
			if part = strings.TrimSpace(part); part != "" {
				*s = append(*s, part)
			}
		}
	}
	return nil
}
