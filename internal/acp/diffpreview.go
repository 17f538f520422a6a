package acp

import (
	"encoding/json"
	"os"
	"strings"

	diff "github.com/shogoki/gotextdiff"

	"github.com/fluxterm/agentcore/internal/conversation"
	"github.com/fluxterm/agentcore/internal/tools"
)

// writeArgs mirrors tools.WriteFileArgs' JSON shape, decoded locally so this
// package doesn't need to depend on fs_write's argument struct directly.
type writeArgs struct {
	Command  string `json:"command"`
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
	OldText  string `json:"old_text"`
	NewText  string `json:"new_text"`
}

// diffPreview renders a unified diff for a pending fs_write call, so a
// session/request_permission prompt can show the client what the write
// would change before it runs. Returns "" for any other tool, or if the
// arguments can't be decoded. Grounded on the teacher's
// internal/ui/unified_diff.go (diff.Diff(path, old, new) []byte), minus its
// terminal-rendering concerns: here the raw unified diff text is all the
// wire protocol needs.
func diffPreview(use conversation.ToolUseBlock) string {
	if use.Name != tools.WriteFileToolName {
		return ""
	}

	var args writeArgs
	if err := json.Unmarshal(use.Input, &args); err != nil {
		return ""
	}

	existing, _ := os.ReadFile(args.FilePath)

	var oldContent, newContent string
	switch args.Command {
	case "create":
		oldContent = ""
		newContent = args.Content
	case "str_replace":
		oldContent = string(existing)
		newContent = strings.Replace(oldContent, args.OldText, args.NewText, 1)
	default:
		return ""
	}

	if oldContent == newContent {
		return ""
	}

	diffBytes := diff.Diff(args.FilePath, []byte(oldContent), args.FilePath, []byte(newContent))
	return string(diffBytes)
}
