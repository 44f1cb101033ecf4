package st

import (
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/pandaura/pandaura/internal/errors"
)

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Issue is a single finding from validation.
type Issue struct {
	Line     int      `json:"line"`
	Column   int      `json:"column"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// ValidationResult is the outcome of validating an ST source.
type ValidationResult struct {
	IsValid bool    `json:"isValid"`
	Issues  []Issue `json:"issues"`
}

// advisoryMaxSize is the source size above which a live push gets a
// size warning.
const advisoryMaxSize = 256 * 1024

var (
	markerPattern    = regexp.MustCompile(`(?i)\b(TODO|FIXME)\b`)
	emergencyPattern = regexp.MustCompile(`(?i)\b(E_?STOP|EMERGENCY\w*|SAFETY_RELAY)\b`)
)

// positionPattern extracts "line N, column M" from lex/parse error messages.
var positionPattern = regexp.MustCompile(`line (\d+), column (\d+)`)

// Validate runs a full lex+parse pass over content and returns structured
// issues. The vendor flavour is accepted for interface parity; the neutral
// dialect is validated for all flavours.
func Validate(content, vendor string) ValidationResult {
	_ = vendor

	result := ValidationResult{IsValid: true}

	if _, err := Compile(content); err != nil {
		result.IsValid = false
		line, column := errorPosition(err)
		result.Issues = append(result.Issues, Issue{
			Line:     line,
			Column:   column,
			Severity: SeverityError,
			Message:  issueMessage(err),
		})
	}

	// Unterminated block comment is reported even when the parse succeeded,
	// because the lexer silently swallows trailing input in that case.
	if idx := strings.LastIndex(content, "(*"); idx >= 0 {
		if !strings.Contains(content[idx:], "*)") {
			line := strings.Count(content[:idx], "\n") + 1
			result.Issues = append(result.Issues, Issue{
				Line:     line,
				Column:   1,
				Severity: SeverityWarning,
				Message:  "unterminated block comment",
			})
		}
	}

	return result
}

// Advisories returns the non-blocking warnings attached to a live logic push.
func Advisories(content string) []Issue {
	var issues []Issue

	if emergencyPattern.MatchString(content) {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Message:  "program references emergency systems; review before pushing live",
		})
	}
	if len(content) > advisoryMaxSize {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("program size %d exceeds %d bytes", len(content), advisoryMaxSize),
		})
	}
	for i, line := range strings.Split(content, "\n") {
		if markerPattern.MatchString(line) {
			issues = append(issues, Issue{
				Line:     i + 1,
				Severity: SeverityInfo,
				Message:  "unfinished work marker in source",
			})
		}
	}

	return issues
}

func errorPosition(err error) (int, int) {
	m := positionPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return 1, 1
	}
	var line, column int
	fmt.Sscanf(m[1], "%d", &line)
	fmt.Sscanf(m[2], "%d", &column)
	return line, column
}

func issueMessage(err error) string {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
