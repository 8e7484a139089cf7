package ghcontext

import (
	"io"
	"strconv"
	"strings"

	"github.com/valyala/fasttemplate"

	"orchestra/internal/db"
)

const (
	startTag = "{{"
	endTag   = "}}"
	// escapedStart renders as a literal "{{"
	escapedStart = `\{{`
)

// UnknownPolicy decides what happens to placeholders with no variable
type UnknownPolicy string

const (
	// UnknownKeep leaves the placeholder text as written
	UnknownKeep UnknownPolicy = "keep"
	// UnknownEmpty replaces the placeholder with nothing
	UnknownEmpty UnknownPolicy = "empty"
)

// ParsePolicy maps a config value to a policy, defaulting to UnknownKeep
func ParsePolicy(s string) UnknownPolicy {
	if UnknownPolicy(strings.ToLower(strings.TrimSpace(s))) == UnknownEmpty {
		return UnknownEmpty
	}
	return UnknownKeep
}

// WorktreeVars returns the worktree.* variables for w
func WorktreeVars(w *db.Worktree) map[string]string {
	if w == nil {
		return map[string]string{}
	}
	return map[string]string{
		"worktree.id":        w.ID,
		"worktree.port":      strconv.Itoa(w.Port),
		"worktree.path":      w.Path,
		"worktree.branch":    w.BranchName,
		"worktree.issue_url": w.IssueURL,
		"worktree.task_id":   w.TaskID,
		"worktree.status":    string(w.Status),
	}
}

// Merge combines variable sets; later sets win on conflicts
func Merge(sets ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, set := range sets {
		for k, v := range set {
			out[k] = v
		}
	}
	return out
}

// Resolve substitutes {{ namespace.field }} placeholders in template.
// Substituted values are written as-is and never expanded again.
func Resolve(template string, vars map[string]string, policy UnknownPolicy) string {
	if !strings.Contains(template, startTag) {
		return template
	}

	segments := strings.Split(template, escapedStart)
	for i, seg := range segments {
		segments[i] = resolveSegment(seg, vars, policy)
	}
	return strings.Join(segments, startTag)
}

// ResolveParameters resolves every value in params
func ResolveParameters(params map[string]string, vars map[string]string, policy UnknownPolicy) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = Resolve(v, vars, policy)
	}
	return out
}

func resolveSegment(seg string, vars map[string]string, policy UnknownPolicy) string {
	if !strings.Contains(seg, startTag) {
		return seg
	}

	out, err := fasttemplate.ExecuteFuncStringWithErr(seg, startTag, endTag, func(w io.Writer, tag string) (int, error) {
		if v, ok := vars[strings.TrimSpace(tag)]; ok {
			return w.Write([]byte(v))
		}
		if policy == UnknownEmpty {
			return 0, nil
		}
		return w.Write([]byte(startTag + tag + endTag))
	})
	if err == nil {
		return out
	}

	// the last "{{" has no closing tag; everything from it on is literal
	idx := strings.LastIndex(seg, startTag)
	return resolveSegment(seg[:idx], vars, policy) + seg[idx:]
}
