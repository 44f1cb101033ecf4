package diff

import "github.com/pandaura/pandaura/internal/errors"

// Apply replays an edit script produced by Changes against the base line
// slice and returns the resulting lines.
func Apply(baseLines []string, changes []Change) ([]string, error) {
	const op = "diff.Apply"

	deleted := make(map[int]bool)
	adds := make(map[int]string)
	for _, c := range changes {
		switch c.Type {
		case Delete:
			if c.OldLine < 1 || c.OldLine > len(baseLines) {
				return nil, errors.Newf(errors.KindValidation, "delete out of range: line %d", c.OldLine)
			}
			deleted[c.OldLine] = true
		case Add:
			if c.NewLine < 1 {
				return nil, errors.Newf(errors.KindValidation, "add out of range: line %d", c.NewLine)
			}
			adds[c.NewLine] = c.Content
		default:
			return nil, errors.Validation(op, "unknown change type")
		}
	}

	var kept []string
	for i, line := range baseLines {
		if !deleted[i+1] {
			kept = append(kept, line)
		}
	}

	total := len(kept) + len(adds)
	result := make([]string, 0, total)
	next := 0
	for pos := 1; pos <= total; pos++ {
		if content, ok := adds[pos]; ok {
			result = append(result, content)
			continue
		}
		if next >= len(kept) {
			return nil, errors.Validation(op, "edit script does not fit base content")
		}
		result = append(result, kept[next])
		next++
	}
	return result, nil
}
