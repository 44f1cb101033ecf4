package deploy

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pandaura/pandaura/internal/st"
)

// maxLogicFileSize flags oversized logic files during checks.
const maxLogicFileSize = 256 * 1024

// CheckInput is the material the safety pipeline inspects.
type CheckInput struct {
	// Files maps path to ST source content.
	Files map[string]string
	// KnownTags are tag names defined outside the logic files.
	KnownTags []string
	// CriticalTags are protected tags; assignments to them are flagged.
	CriticalTags []string
	// TagAddresses maps tag name to vendor I/O address.
	TagAddresses map[string]string
}

// checkFn runs one safety check and returns status, message, and details.
type checkFn func(in CheckInput) (CheckStatus, string, string)

// checkDef is one entry of the fixed check suite, in execution order.
type checkDef struct {
	name     string
	typ      string
	severity CheckSeverity
	run      checkFn
}

// checkSuite is the fixed ordered safety-check pipeline.
var checkSuite = []checkDef{
	{"Static Analysis", "syntax", SeverityCritical, checkStaticAnalysis},
	{"Tag Dependencies", "tags", SeverityCritical, checkTagDependencies},
	{"Tag Conflicts", "tags", SeverityCritical, checkTagConflicts},
	{"Critical Tag Overwrites", "tags", SeverityWarning, checkCriticalOverwrites},
	{"IO Address Conflicts", "conflicts", SeverityCritical, checkAddressConflicts},
	{"Resource Checks", "resources", SeverityWarning, checkResources},
	{"File Size Validation", "resources", SeverityWarning, checkFileSizes},
	{"Estimated Downtime", "resources", SeverityInfo, checkEstimatedDowntime},
}

// runChecks executes the whole suite and reports whether no critical check
// failed.
func (s *Service) runChecks(deployID string, in CheckInput) ([]Check, bool, error) {
	var results []Check
	passed := true

	for _, def := range checkSuite {
		started := time.Now()
		status, message, details := def.run(in)
		check := Check{
			ID:         s.newID(),
			DeployID:   deployID,
			Name:       def.name,
			Type:       def.typ,
			Status:     status,
			Severity:   def.severity,
			Message:    message,
			Details:    details,
			DurationMs: time.Since(started).Milliseconds(),
		}
		if status == CheckFailed && def.severity == SeverityCritical {
			passed = false
		}
		results = append(results, check)
	}
	return results, passed, nil
}

func sortedPaths(files map[string]string) []string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func isLogicPath(path string) bool {
	return strings.HasSuffix(path, ".st")
}

// checkStaticAnalysis compiles every logic file.
func checkStaticAnalysis(in CheckInput) (CheckStatus, string, string) {
	var failures []string
	for _, path := range sortedPaths(in.Files) {
		if !isLogicPath(path) {
			continue
		}
		result := st.Validate(in.Files[path], "")
		if !result.IsValid {
			for _, issue := range result.Issues {
				failures = append(failures, fmt.Sprintf("%s:%d:%d %s", path, issue.Line, issue.Column, issue.Message))
			}
		}
	}
	if len(failures) > 0 {
		return CheckFailed, fmt.Sprintf("%d syntax error(s)", len(failures)), strings.Join(failures, "\n")
	}
	return CheckPassed, "all logic files compile", ""
}

// programSymbols extracts declared and referenced names from one file.
// Unparseable files yield nothing; Static Analysis already reports them.
func programSymbols(content string) (declared map[string]bool, referenced map[string]bool) {
	declared = map[string]bool{}
	referenced = map[string]bool{}
	prog, err := st.Compile(content)
	if err != nil {
		return declared, referenced
	}
	for _, d := range prog.Decls {
		declared[d.Name] = true
	}
	var walkExpr func(e st.Expr)
	var walkStmts func(body []st.Stmt)
	walkExpr = func(e st.Expr) {
		switch n := e.(type) {
		case *st.Var:
			referenced[n.Name] = true
		case *st.ArrayRef:
			referenced[n.Name] = true
			walkExpr(n.Index)
		case *st.MemberAccess:
			walkExpr(n.Base)
		case *st.Binary:
			walkExpr(n.Left)
			walkExpr(n.Right)
		case *st.Unary:
			walkExpr(n.Operand)
		case *st.CallExpr:
			for _, a := range n.Args {
				walkExpr(a.Value)
			}
		}
	}
	walkStmts = func(body []st.Stmt) {
		for _, s := range body {
			switch n := s.(type) {
			case *st.Assign:
				walkExpr(n.Target)
				walkExpr(n.Value)
			case *st.Call:
				referenced[n.Name] = true
				for _, a := range n.Args {
					walkExpr(a.Value)
				}
			case *st.If:
				walkExpr(n.Cond)
				walkStmts(n.Then)
				for _, b := range n.Elsif {
					walkExpr(b.Cond)
					walkStmts(b.Body)
				}
				walkStmts(n.Else)
			case *st.While:
				walkExpr(n.Cond)
				walkStmts(n.Body)
			case *st.For:
				referenced[n.Var] = true
				walkExpr(n.Start)
				walkExpr(n.End)
				if n.Step != nil {
					walkExpr(n.Step)
				}
				walkStmts(n.Body)
			}
		}
	}
	walkStmts(prog.Body)
	return declared, referenced
}

// builtinNames are callable or engine-owned identifiers that never need a
// tag definition.
var builtinNames = map[string]bool{
	"TO_BOOL": true, "TO_INT": true, "TO_REAL": true, "NOW_MS": true,
	"ScanTime_ms": true, "ScanCount": true,
}

// checkTagDependencies flags references to names that are neither declared
// in the file nor known tags.
func checkTagDependencies(in CheckInput) (CheckStatus, string, string) {
	known := map[string]bool{}
	for _, tag := range in.KnownTags {
		known[tag] = true
	}

	var missing []string
	for _, path := range sortedPaths(in.Files) {
		if !isLogicPath(path) {
			continue
		}
		declared, referenced := programSymbols(in.Files[path])
		for name := range referenced {
			if !declared[name] && !known[name] && !builtinNames[name] {
				missing = append(missing, fmt.Sprintf("%s: %s", path, name))
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return CheckFailed, fmt.Sprintf("%d unresolved tag reference(s)", len(missing)), strings.Join(missing, "\n")
	}
	return CheckPassed, "all tag references resolve", ""
}

// checkTagConflicts flags the same name declared in more than one file.
func checkTagConflicts(in CheckInput) (CheckStatus, string, string) {
	owner := map[string]string{}
	var conflicts []string
	for _, path := range sortedPaths(in.Files) {
		if !isLogicPath(path) {
			continue
		}
		declared, _ := programSymbols(in.Files[path])
		for name := range declared {
			if prev, taken := owner[name]; taken {
				conflicts = append(conflicts, fmt.Sprintf("%s declared in both %s and %s", name, prev, path))
				continue
			}
			owner[name] = path
		}
	}
	if len(conflicts) > 0 {
		sort.Strings(conflicts)
		return CheckFailed, fmt.Sprintf("%d conflicting declaration(s)", len(conflicts)), strings.Join(conflicts, "\n")
	}
	return CheckPassed, "no conflicting declarations", ""
}

// checkCriticalOverwrites warns on assignments to protected tags.
func checkCriticalOverwrites(in CheckInput) (CheckStatus, string, string) {
	critical := map[string]bool{}
	for _, tag := range in.CriticalTags {
		critical[tag] = true
	}
	if len(critical) == 0 {
		return CheckPassed, "no protected tags configured", ""
	}

	var hits []string
	for _, path := range sortedPaths(in.Files) {
		if !isLogicPath(path) {
			continue
		}
		prog, err := st.Compile(in.Files[path])
		if err != nil {
			continue
		}
		forEachAssignTarget(prog.Body, func(name string, line int) {
			if critical[name] {
				hits = append(hits, fmt.Sprintf("%s:%d writes %s", path, line, name))
			}
		})
	}
	if len(hits) > 0 {
		sort.Strings(hits)
		return CheckWarning, fmt.Sprintf("%d write(s) to protected tags", len(hits)), strings.Join(hits, "\n")
	}
	return CheckPassed, "no writes to protected tags", ""
}

func forEachAssignTarget(body []st.Stmt, fn func(name string, line int)) {
	for _, s := range body {
		switch n := s.(type) {
		case *st.Assign:
			line, _ := n.Pos()
			switch target := n.Target.(type) {
			case *st.Var:
				fn(target.Name, line)
			case *st.ArrayRef:
				fn(target.Name, line)
			case *st.MemberAccess:
				if base, ok := target.Base.(*st.Var); ok {
					fn(base.Name, line)
				}
			}
		case *st.If:
			forEachAssignTarget(n.Then, fn)
			for _, b := range n.Elsif {
				forEachAssignTarget(b.Body, fn)
			}
			forEachAssignTarget(n.Else, fn)
		case *st.While:
			forEachAssignTarget(n.Body, fn)
		case *st.For:
			forEachAssignTarget(n.Body, fn)
		}
	}
}

// checkAddressConflicts flags two tags mapped to the same vendor address.
func checkAddressConflicts(in CheckInput) (CheckStatus, string, string) {
	byAddress := map[string]string{}
	var conflicts []string
	tags := make([]string, 0, len(in.TagAddresses))
	for tag := range in.TagAddresses {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		addr := in.TagAddresses[tag]
		if addr == "" {
			continue
		}
		if prev, taken := byAddress[addr]; taken {
			conflicts = append(conflicts, fmt.Sprintf("%s and %s share address %s", prev, tag, addr))
			continue
		}
		byAddress[addr] = tag
	}
	if len(conflicts) > 0 {
		return CheckFailed, fmt.Sprintf("%d address conflict(s)", len(conflicts)), strings.Join(conflicts, "\n")
	}
	return CheckPassed, "no address conflicts", ""
}

// checkResources reports aggregate footprint and warns when it is large.
func checkResources(in CheckInput) (CheckStatus, string, string) {
	var total int
	for _, content := range in.Files {
		total += len(content)
	}
	detail := fmt.Sprintf("%d file(s), %d bytes total", len(in.Files), total)
	if total > 4*maxLogicFileSize {
		return CheckWarning, "project footprint is large", detail
	}
	return CheckPassed, "resource footprint acceptable", detail
}

// checkFileSizes warns on individual oversized files.
func checkFileSizes(in CheckInput) (CheckStatus, string, string) {
	var oversized []string
	for _, path := range sortedPaths(in.Files) {
		if len(in.Files[path]) > maxLogicFileSize {
			oversized = append(oversized, fmt.Sprintf("%s (%d bytes)", path, len(in.Files[path])))
		}
	}
	if len(oversized) > 0 {
		return CheckWarning, fmt.Sprintf("%d oversized file(s)", len(oversized)), strings.Join(oversized, "\n")
	}
	return CheckPassed, "all files within size limits", ""
}

// checkEstimatedDowntime is informational: a flat base cost plus a per-file
// transfer estimate.
func checkEstimatedDowntime(in CheckInput) (CheckStatus, string, string) {
	estimate := 2.0 + 0.5*float64(len(in.Files))
	return CheckPassed, fmt.Sprintf("estimated downtime %.1fs", estimate), ""
}
