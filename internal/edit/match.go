package edit

import (
	"fmt"
	"strings"
)

// MatchLevel records which matching strategy located a search block, from
// most to least exact. Tools report the level back to the caller so a model
// repeatedly landing on fuzzy matches can tighten its old_text.
type MatchLevel int

const (
	MatchExact             MatchLevel = iota // byte-for-byte substring match
	MatchTrimmedLines                        // match after trimming trailing whitespace per line
	MatchNormalizedIndent                    // match after trimming leading+trailing whitespace per line
	MatchWildcard                            // search contains "..." segments matched as wildcards
	MatchFuzzy                               // best-effort match against the closest line block
)

func (l MatchLevel) String() string {
	switch l {
	case MatchExact:
		return "exact"
	case MatchTrimmedLines:
		return "trimmed"
	case MatchNormalizedIndent:
		return "reindented"
	case MatchWildcard:
		return "wildcard"
	case MatchFuzzy:
		return "fuzzy"
	default:
		return "unknown"
	}
}

// MatchResult locates a search block within a file's content.
type MatchResult struct {
	Start    int // byte offset of the match start
	End      int // byte offset of the match end (exclusive)
	Original string
	Level    MatchLevel
}

// fuzzyMinSimilarity is the minimum average per-line similarity score
// accepted for a MatchFuzzy result before FindMatch gives up.
const fuzzyMinSimilarity = 0.6

// FindMatch locates search within content, returning the result of the first
// strategy that succeeds. A search containing the literal token "..." is
// tried first as a wildcard pattern, where "..." matches an arbitrary run of
// characters (including newlines) between two anchor fragments; after that
// come exact, trailing-whitespace-trimmed, reindented and fuzzy matching.
func FindMatch(content, search string) (MatchResult, error) {
	if search == "" {
		return MatchResult{}, fmt.Errorf("old_text is empty")
	}

	if strings.Contains(search, "...") {
		if res, ok := findWildcardMatch(content, search); ok {
			return res, nil
		}
	}

	if idx := strings.Index(content, search); idx >= 0 {
		if strings.Count(content, search) > 1 {
			return MatchResult{}, fmt.Errorf("old_text matches %d locations, provide more context to make it unique", strings.Count(content, search))
		}
		return MatchResult{Start: idx, End: idx + len(search), Original: search, Level: MatchExact}, nil
	}

	if res, ok := findLineMatch(content, search, trimRight); ok {
		res.Level = MatchTrimmedLines
		return res, nil
	}

	if res, ok := findLineMatch(content, search, strings.TrimSpace); ok {
		res.Level = MatchNormalizedIndent
		return res, nil
	}

	return findFuzzyMatch(content, search)
}

// ApplyMatch replaces the matched region of content with replacement.
func ApplyMatch(content string, match MatchResult, replacement string) string {
	return content[:match.Start] + replacement + content[match.End:]
}

func trimRight(s string) string {
	return strings.TrimRight(s, " \t\r")
}

// findLineMatch slides a window of len(searchLines) over content's lines,
// comparing each line under norm, and returns the matching byte range of the
// original (unnormalized) content.
func findLineMatch(content, search string, norm func(string) string) (MatchResult, bool) {
	searchLines := strings.Split(search, "\n")
	contentLines := strings.Split(content, "\n")

	normSearch := make([]string, len(searchLines))
	for i, l := range searchLines {
		normSearch[i] = norm(l)
	}

	lineOffsets := make([]int, len(contentLines)+1)
	offset := 0
	for i, l := range contentLines {
		lineOffsets[i] = offset
		offset += len(l) + 1 // +1 for the newline
	}
	lineOffsets[len(contentLines)] = offset

	matchStart := -1
	for start := 0; start+len(normSearch) <= len(contentLines); start++ {
		ok := true
		for i, ns := range normSearch {
			if norm(contentLines[start+i]) != ns {
				ok = false
				break
			}
		}
		if ok {
			if matchStart >= 0 {
				return MatchResult{}, false // ambiguous, more than one match
			}
			matchStart = start
		}
	}

	if matchStart < 0 {
		return MatchResult{}, false
	}

	end := matchStart + len(normSearch)
	startOffset := lineOffsets[matchStart]
	endOffset := lineOffsets[end]
	if end > 0 {
		endOffset-- // drop the trailing newline captured by lineOffsets
	}
	if endOffset > len(content) {
		endOffset = len(content)
	}

	return MatchResult{Start: startOffset, End: endOffset, Original: content[startOffset:endOffset]}, true
}

// findWildcardMatch handles old_text containing "..." segments: it anchors on
// the text before the first "..." and after the last one, accepting anything
// in between.
func findWildcardMatch(content, search string) (MatchResult, bool) {
	segments := strings.Split(search, "...")
	if len(segments) < 2 {
		return MatchResult{}, false
	}

	first := segments[0]
	last := segments[len(segments)-1]

	startIdx := strings.Index(content, first)
	if startIdx < 0 {
		return MatchResult{}, false
	}
	searchTail := content[startIdx+len(first):]
	endRel := strings.LastIndex(searchTail, last)
	if endRel < 0 {
		return MatchResult{}, false
	}
	end := startIdx + len(first) + endRel + len(last)

	return MatchResult{Start: startIdx, End: end, Original: content[startIdx:end], Level: MatchWildcard}, true
}

// findFuzzyMatch falls back to FindClosestLines to locate the block of
// content most similar to search, accepting it only if the average per-line
// similarity clears fuzzyMinSimilarity.
func findFuzzyMatch(content, search string) (MatchResult, error) {
	searchLines := strings.Split(search, "\n")
	closest := FindClosestLines(content, search, 1)
	if len(closest) == 0 {
		return MatchResult{}, fmt.Errorf("no similar content found for old_text")
	}

	contentLines := strings.Split(content, "\n")
	start := closest[0].LineNum - 1
	end := start + len(searchLines)
	if end > len(contentLines) {
		end = len(contentLines)
	}
	if start >= end {
		return MatchResult{}, fmt.Errorf("no similar content found for old_text")
	}

	candidate := strings.Join(contentLines[start:end], "\n")
	score := lineSimilarity(strings.TrimSpace(candidate), strings.TrimSpace(search))
	if score < fuzzyMinSimilarity {
		return MatchResult{}, fmt.Errorf("closest match is only %.0f%% similar, refine old_text", score*100)
	}

	startOffset := 0
	for i := 0; i < start; i++ {
		startOffset += len(contentLines[i]) + 1
	}
	endOffset := startOffset + len(candidate)

	return MatchResult{Start: startOffset, End: endOffset, Original: candidate, Level: MatchFuzzy}, nil
}
