package st

import "strings"

// FormatOptions control source formatting.
type FormatOptions struct {
	// IndentWidth is the number of spaces per nesting level (default 2).
	IndentWidth int
	// UppercaseKeywords rewrites keywords to their canonical upper-case form.
	UppercaseKeywords bool
}

// DefaultFormatOptions returns the options used when none are supplied.
func DefaultFormatOptions() FormatOptions {
	return FormatOptions{IndentWidth: 2, UppercaseKeywords: true}
}

// blockOpeners increase the indent of following lines; blockClosers decrease
// the indent of their own line. ELSIF/ELSE close and reopen.
var (
	blockOpeners = map[string]struct{}{
		"PROGRAM": {}, "VAR": {}, "THEN": {}, "DO": {}, "ELSE": {},
	}
	blockClosers = map[string]struct{}{
		"END_PROGRAM": {}, "END_VAR": {}, "END_IF": {}, "END_WHILE": {},
		"END_FOR": {}, "ELSIF": {}, "ELSE": {},
	}
)

// Format normalises indentation and keyword casing line by line. It never
// reflows statements, so formatting is loss-free for any input that lexes;
// input that does not lex is returned unchanged.
func Format(source string, opts FormatOptions) string {
	if opts.IndentWidth <= 0 {
		opts.IndentWidth = 2
	}

	if _, err := NewLexer(source).Tokenize(); err != nil {
		return source
	}

	lines := strings.Split(source, "\n")
	var out []string
	depth := 0

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			out = append(out, "")
			continue
		}

		if opts.UppercaseKeywords {
			line = uppercaseKeywords(line)
		}

		first := firstWord(line)
		if _, closes := blockClosers[first]; closes && depth > 0 {
			depth--
		}

		out = append(out, strings.Repeat(" ", depth*opts.IndentWidth)+line)

		if opensBlock(line) {
			depth++
		}
	}

	return strings.Join(out, "\n")
}

// opensBlock reports whether the line ends a header that opens a block:
// it starts with PROGRAM/VAR/ELSE, or ends with THEN or DO.
func opensBlock(line string) bool {
	first := firstWord(line)
	switch first {
	case "PROGRAM", "VAR", "ELSE", "ELSIF":
		// ELSIF only opens when its THEN is on the same line; a bare ELSIF
		// header keeps the depth for the THEN line.
		if first == "ELSIF" && !strings.HasSuffix(strings.ToUpper(line), "THEN") {
			return false
		}
		return true
	}
	last := lastWord(line)
	_, ok := blockOpeners[last]
	return ok
}

// uppercaseKeywords rewrites keyword identifiers outside strings and comments.
func uppercaseKeywords(line string) string {
	var sb strings.Builder
	i := 0
	for i < len(line) {
		ch := line[i]

		// Preserve comments verbatim.
		if ch == '/' && i+1 < len(line) && line[i+1] == '/' {
			sb.WriteString(line[i:])
			break
		}
		if ch == '(' && i+1 < len(line) && line[i+1] == '*' {
			end := strings.Index(line[i:], "*)")
			if end < 0 {
				sb.WriteString(line[i:])
				break
			}
			sb.WriteString(line[i : i+end+2])
			i += end + 2
			continue
		}

		// Preserve string literals verbatim.
		if ch == '\'' || ch == '"' {
			quote := ch
			j := i + 1
			for j < len(line) && line[j] != quote {
				if line[j] == '\\' {
					j++
				}
				j++
			}
			if j < len(line) {
				j++
			}
			sb.WriteString(line[i:j])
			i = j
			continue
		}

		if isLetter(ch) || ch == '_' {
			j := i
			for j < len(line) && (isLetter(line[j]) || isDigit(line[j]) || line[j] == '_') {
				j++
			}
			word := line[i:j]
			if canonical, ok := LookupKeyword(word); ok {
				sb.WriteString(canonical)
			} else {
				sb.WriteString(word)
			}
			i = j
			continue
		}

		sb.WriteByte(ch)
		i++
	}
	return sb.String()
}

func firstWord(line string) string {
	for i := 0; i < len(line); i++ {
		if !isLetter(line[i]) && line[i] != '_' && !isDigit(line[i]) {
			return strings.ToUpper(line[:i])
		}
	}
	return strings.ToUpper(line)
}

func lastWord(line string) string {
	end := len(line)
	for end > 0 && (line[end-1] == ';' || line[end-1] == ' ' || line[end-1] == '\t') {
		end--
	}
	start := end
	for start > 0 && (isLetter(line[start-1]) || isDigit(line[start-1]) || line[start-1] == '_') {
		start--
	}
	return strings.ToUpper(line[start:end])
}
