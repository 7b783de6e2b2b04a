// Package ignore provides pattern matching functionality for excluding files and
// directories from a snapshot. It supports .gitignore-style patterns including
// glob patterns, directory-only matches, and negation patterns, loaded from a
// single configured exclude file applied to every source tree.
package ignore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/PavelTrutman/goldfish/internal/logger"
)

const (
	// globDoubleStar represents the "**" pattern that matches any number of directories
	globDoubleStar = "**"
)

// Matcher determines if a path should be excluded from the snapshot.
// Implementations of this interface provide pattern matching functionality
// to filter files and directories during the source-tree walk.
type Matcher interface {
	// Match returns true if the path should be excluded from the snapshot.
	// The path can be relative to the source tree root or absolute.
	//
	// Parameters:
	//   - path: The path to check (relative or absolute)
	//   - isDir: Whether the path represents a directory
	//
	// Returns true if the path matches an exclusion pattern and should be excluded.
	Match(path string, isDir bool) bool
}

// PatternMatcher matches paths against exclusion patterns.
// Supports patterns similar to .gitignore:
// - Exact matches: "node_modules"
// - Directory matches: "node_modules/" (matches directories only)
// - Glob patterns: "*.log", "**/build"
type PatternMatcher struct {
	patterns []pattern
}

type pattern struct {
	// raw is the original pattern string
	raw string
	// isDirOnly is true if pattern ends with /
	isDirOnly bool
	// isNegation is true if pattern starts with !
	isNegation bool
	// segments are the path segments to match
	segments []string
	// hasGlob is true if pattern contains * or ?
	hasGlob bool
}

// NewPatternMatcher creates a new pattern matcher from a list of patterns.
// Patterns support .gitignore-style syntax including:
//   - Exact matches: "node_modules"
//   - Directory-only: "node_modules/" (matches directories only)
//   - Glob patterns: "*.log", "**/build"
//   - Negation: "!important.log" (un-excludes previously excluded paths)
//
// Empty lines and lines starting with "#" are treated as comments and ignored.
//
// Parameters:
//   - patterns: A slice of pattern strings to compile
//
// Returns a new PatternMatcher instance ready to use.
func NewPatternMatcher(patterns []string) *PatternMatcher {
	pm := &PatternMatcher{
		patterns: make([]pattern, 0, len(patterns)),
	}

	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue // Skip empty lines and comments
		}

		pat := pattern{
			raw: p,
		}

		// Handle negation
		if strings.HasPrefix(p, "!") {
			pat.isNegation = true
			p = strings.TrimPrefix(p, "!")
		}

		// Handle directory-only patterns
		if strings.HasSuffix(p, "/") {
			pat.isDirOnly = true
			p = strings.TrimSuffix(p, "/")
		}

		// Normalize path separators
		p = filepath.ToSlash(p)
		pat.segments = strings.Split(p, "/")
		pat.hasGlob = strings.Contains(p, "*") || strings.Contains(p, "?")

		pm.patterns = append(pm.patterns, pat)
	}

	return pm
}

// Match returns true if the path should be excluded.
func (pm *PatternMatcher) Match(path string, isDir bool) bool {
	// Normalize path
	path = filepath.ToSlash(path)
	pathSegments := strings.Split(path, "/")

	// Track the most specific match (negation or exclusion)
	matched := false
	matchedNegation := false

	for _, pat := range pm.patterns {
		if pat.Match(pathSegments, isDir) {
			if pat.isNegation {
				matchedNegation = true
			} else {
				matched = true
			}
		}
	}

	// Negations override exclusions
	if matchedNegation {
		return false
	}
	return matched
}

// Match checks if the pattern matches the path segments.
func (p *pattern) Match(pathSegments []string, isDir bool) bool {
	// Directory-only patterns don't match files
	if p.isDirOnly && !isDir {
		return false
	}

	// Simple exact match for common cases
	if !p.hasGlob && len(p.segments) == 1 {
		// Check if any segment matches
		for _, seg := range pathSegments {
			if seg == p.segments[0] {
				return true
			}
		}
		return false
	}

	// For patterns with multiple segments or globs, use more complex matching
	return p.matchSegments(pathSegments)
}

// matchSegments performs pattern matching on path segments.
func (p *pattern) matchSegments(pathSegments []string) bool {
	patSegs := p.segments

	// Handle patterns starting with ** (match any number of directories)
	if len(patSegs) > 0 && patSegs[0] == globDoubleStar {
		// ** matches everything, so check if remaining pattern matches
		if len(patSegs) == 1 {
			return true
		}
		// Try matching remaining pattern at any position
		remainingPat := patSegs[1:]
		for i := 0; i <= len(pathSegments); i++ {
			if matchSegmentsAt(pathSegments[i:], remainingPat) {
				return true
			}
		}
		return false
	}

	// Handle patterns ending with **
	if len(patSegs) > 0 && patSegs[len(patSegs)-1] == globDoubleStar {
		// Match the leading segments at any position in the path
		return matchSegmentsAt(pathSegments, patSegs[:len(patSegs)-1])
	}

	// Standard matching (most common case: "node_modules", ".git")
	// Check if pattern matches at any position in the path
	return matchSegmentsAt(pathSegments, patSegs)
}

// matchSegmentsAt checks if pattern segments match path segments starting at a given position.
func matchSegmentsAt(pathSegs []string, patSegs []string) bool {
	if len(patSegs) == 0 {
		return true
	}
	if len(pathSegs) == 0 {
		return false
	}

	// Try matching pattern at any position in the path
	// This handles cases like "node_modules" appearing anywhere in the path
	for i := 0; i <= len(pathSegs)-len(patSegs); i++ {
		matched := true
		for j := 0; j < len(patSegs); j++ {
			if !matchSegment(pathSegs[i+j], patSegs[j]) {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}

	return false
}

// matchSegment checks if a single path segment matches a pattern segment.
func matchSegment(pathSeg, patSeg string) bool {
	// Exact match
	if patSeg == pathSeg {
		return true
	}

	// Simple glob matching
	if strings.Contains(patSeg, "*") || strings.Contains(patSeg, "?") {
		return matchGlob(pathSeg, patSeg)
	}

	return false
}

// matchGlob performs simple glob matching.
func matchGlob(s, pattern string) bool {
	// Convert pattern to regex-like matching
	// * matches any sequence, ? matches any single character
	patternIdx := 0
	strIdx := 0

	for patternIdx < len(pattern) && strIdx < len(s) {
		if pattern[patternIdx] == '*' {
			// * matches everything, try matching rest of pattern
			if patternIdx == len(pattern)-1 {
				return true
			}
			// Try matching remaining pattern at each position
			for i := strIdx; i <= len(s); i++ {
				if matchGlob(s[i:], pattern[patternIdx+1:]) {
					return true
				}
			}
			return false
		} else if pattern[patternIdx] == '?' {
			// ? matches any single character
			patternIdx++
			strIdx++
		} else if pattern[patternIdx] == s[strIdx] {
			patternIdx++
			strIdx++
		} else {
			return false
		}
	}

	// Handle trailing *
	for patternIdx < len(pattern) && pattern[patternIdx] == '*' {
		patternIdx++
	}

	return patternIdx == len(pattern) && strIdx == len(s)
}

// LoadExcludeFile loads gitignore-syntax exclusion patterns from a single
// file path, applied uniformly to every source tree.
//
// The path is cleaned and resolved to an absolute path before opening; a
// missing file is an error here, since the caller explicitly configured
// this path.
func LoadExcludeFile(filePath string) ([]string, error) {
	cleanPath := filepath.Clean(filePath)
	absPath, err := filepath.Abs(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	if strings.Contains(absPath, "..") {
		return nil, fmt.Errorf("invalid file path: %s", filePath)
	}

	file, err := os.Open(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("exclude file does not exist: %s", filePath)
		}
		return nil, fmt.Errorf("failed to open exclude file %s: %w", filePath, err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			logger.Warn("Failed to close exclude file", "error", err)
		}
	}()

	var patterns []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			patterns = append(patterns, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read exclude file %s: %w", filePath, err)
	}

	logger.Info("Loaded exclude file", "file", absPath, "patterns", len(patterns))
	return patterns, nil
}

// NewMatcher builds a Matcher from an optional excludeFile path. An empty
// path yields a matcher that excludes nothing, so source trees are
// captured in full by default.
func NewMatcher(excludeFile string) (Matcher, error) {
	if excludeFile == "" {
		return &noOpMatcher{}, nil
	}
	patterns, err := LoadExcludeFile(excludeFile)
	if err != nil {
		return nil, err
	}
	if len(patterns) == 0 {
		return &noOpMatcher{}, nil
	}
	return NewPatternMatcher(patterns), nil
}

// noOpMatcher is a Matcher implementation that never matches anything.
// It is used when no exclusion patterns are configured, allowing all
// paths to be included in the snapshot.
type noOpMatcher struct{}

// Match always returns false: no paths are excluded.
func (n *noOpMatcher) Match(path string, isDir bool) bool {
	return false
}
