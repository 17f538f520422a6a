// Package permission decides whether a tool call may proceed before it ever
// reaches a tool's Execute method. Evaluate is a pure function: it reads no
// files, prompts nobody, and remembers nothing between calls. Anything
// stateful (caching a repeated Ask so the same call isn't re-prompted within
// a turn) lives one layer up, in the catalog that calls Evaluate.
package permission

import (
	"encoding/json"
	"fmt"

	"github.com/gobwas/glob"
)

// Decision is the outcome of evaluating a single tool call against a Policy.
type Decision int

const (
	// Deny blocks the call outright.
	Deny Decision = iota
	// Ask requires interactive confirmation before the call proceeds.
	Ask
	// Allow lets the call proceed without prompting.
	Allow
)

func (d Decision) String() string {
	switch d {
	case Deny:
		return "deny"
	case Ask:
		return "ask"
	case Allow:
		return "allow"
	default:
		return "unknown"
	}
}

// PathPolicy scopes a path-taking tool to an allowed/denied set of glob
// patterns, matched against every path the call touches.
type PathPolicy struct {
	AllowedPaths []string `json:"allowed_paths,omitempty" mapstructure:"allowed_paths"`
	DeniedPaths  []string `json:"denied_paths,omitempty" mapstructure:"denied_paths"`
}

// Policy is the per-agent permission configuration evaluated against every
// tool call: which tools may run at all, and for path-taking tools, which
// paths.
type Policy struct {
	AllowedTools map[string]bool       `mapstructure:"allowed_tools"`
	ToolSettings map[string]PathPolicy `mapstructure:"tool_settings"`
}

// PathExtractor pulls the filesystem paths a tool call would touch out of
// its raw JSON input. Tools that take no paths need not register one.
// Keeping extraction out of this package is what lets Evaluate stay pure and
// free of any internal/tools import.
type PathExtractor func(input json.RawMessage) []string

// extractors holds the PathExtractor registered per tool name. internal/tools
// populates this at init time via Register; Evaluate only ever reads it.
var extractors = map[string]PathExtractor{}

// Register associates a PathExtractor with a tool name. Call once per
// path-taking tool, typically from the tool package's init or constructor.
func Register(toolName string, extractor PathExtractor) {
	extractors[toolName] = extractor
}

// ExtractPaths runs the PathExtractor registered for toolName, if any. Used
// by callers (e.g. internal/toolcat's Ask cache, an approval prompt) that
// need the same path list Evaluate itself would compute, without duplicating
// per-tool unmarshal logic.
func ExtractPaths(toolName string, input json.RawMessage) []string {
	extractor, ok := extractors[toolName]
	if !ok {
		return nil
	}
	return extractor(input)
}

// Evaluate decides whether toolName may run with input under policy.
//
// Rules, applied in order:
//  1. Not in policy.AllowedTools and no tool-specific settings → Deny.
//  2. The tool has a registered PathExtractor and extracted paths exist:
//     build deny/allow glob sets from the tool's PathPolicy.
//     - any path matches a deny glob → Deny
//     - every path matches an allow glob → Allow
//     - otherwise → Ask
//  3. No paths to check, tool is in AllowedTools → Allow.
//  4. Glob compilation failures fail closed → Ask.
func Evaluate(toolName string, input json.RawMessage, policy Policy) Decision {
	settings, hasSettings := policy.ToolSettings[toolName]
	if !policy.AllowedTools[toolName] && !hasSettings {
		return Deny
	}

	extractor, hasExtractor := extractors[toolName]
	if !hasExtractor {
		if policy.AllowedTools[toolName] {
			return Allow
		}
		return Ask
	}

	paths := extractor(input)
	if len(paths) == 0 {
		if policy.AllowedTools[toolName] {
			return Allow
		}
		return Ask
	}

	denyGlobs, err := compileGlobs(settings.DeniedPaths)
	if err != nil {
		return Ask
	}
	allowGlobs, err := compileGlobs(settings.AllowedPaths)
	if err != nil {
		return Ask
	}

	for _, p := range paths {
		if matchesAny(denyGlobs, p) {
			return Deny
		}
	}

	if len(allowGlobs) == 0 {
		return Ask
	}
	for _, p := range paths {
		if !matchesAny(allowGlobs, p) {
			return Ask
		}
	}
	return Allow
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("compile glob %q: %w", pattern, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

func matchesAny(globs []glob.Glob, path string) bool {
	for _, g := range globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}
