package tools

import (
	"encoding/json"

	"github.com/fluxterm/agentcore/internal/permission"
)

// init registers a PathExtractor for every path-taking tool so
// internal/permission can evaluate allow/deny globs without importing this
// package's argument types.
func init() {
	permission.Register(ReadFileToolName, func(input json.RawMessage) []string {
		var a ReadFileArgs
		if err := json.Unmarshal(input, &a); err != nil || a.FilePath == "" {
			return nil
		}
		return []string{a.FilePath}
	})

	permission.Register(WriteFileToolName, func(input json.RawMessage) []string {
		var a WriteFileArgs
		if err := json.Unmarshal(input, &a); err != nil || a.FilePath == "" {
			return nil
		}
		return []string{a.FilePath}
	})

	permission.Register(ListToolName, func(input json.RawMessage) []string {
		var a ListArgs
		if err := json.Unmarshal(input, &a); err != nil || a.Path == "" {
			return nil
		}
		return []string{a.Path}
	})

	permission.Register(WatchToolName, func(input json.RawMessage) []string {
		var a WatchArgs
		if err := json.Unmarshal(input, &a); err != nil || a.Path == "" {
			return nil
		}
		return []string{a.Path}
	})

	permission.Register(ImageReadToolName, func(input json.RawMessage) []string {
		var a ImageReadArgs
		if err := json.Unmarshal(input, &a); err != nil || a.FilePath == "" {
			return nil
		}
		return []string{a.FilePath}
	})
}
