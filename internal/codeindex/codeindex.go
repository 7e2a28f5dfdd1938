// Package codeindex builds a lightweight structural index of a repository
// tree. The index, not raw file contents, is what gets paired with each
// requirement for judgment, which bounds the context sent to the backend.
package codeindex

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// skipDirs are directories never worth indexing: version control, package
// caches, and build output.
var skipDirs = map[string]bool{
	".git":          true,
	".svn":          true,
	".hg":           true,
	"node_modules":  true,
	"vendor":        true,
	".venv":         true,
	"venv":          true,
	"env":           true,
	"__pycache__":   true,
	".idea":         true,
	".vscode":       true,
	".cache":        true,
	"dist":          true,
	"build":         true,
	"target":        true,
	".pytest_cache": true,
	"coverage":      true,
}

// codeExtensions is the allowlist of file types worth indexing.
var codeExtensions = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".rb":    "ruby",
	".php":   "php",
	".cs":    "csharp",
	".cpp":   "cpp",
	".cc":    "cpp",
	".c":     "c",
	".h":     "c",
	".hpp":   "cpp",
	".rs":    "rust",
	".kt":    "kotlin",
	".swift": "swift",
	".m":     "objc",
}

// maxFileBytes caps how much of a single file the extractor reads.
const maxFileBytes = 256 * 1024

// FileSummary is the structural digest of one source file.
type FileSummary struct {
	Path     string   `json:"path"` // relative to the repo root
	Language string   `json:"language"`
	Symbols  []string `json:"symbols,omitempty"`
	Imports  []string `json:"imports,omitempty"`
	Doc      string   `json:"doc,omitempty"` // leading comment block
	Digest   string   `json:"digest"`        // sha256 of the indexed content
	Lines    int      `json:"lines"`
}

// Index maps a repository tree to per-file structural summaries.
type Index struct {
	RepoPath string
	Files    []FileSummary // sorted by path
}

// Extract walks repoPath (restricted to targetPaths when given), skipping
// vendor directories and binary files, and summarizes each code file.
func Extract(repoPath string, targetPaths []string) (*Index, error) {
	roots := targetPaths
	if len(roots) == 0 {
		roots = []string{"."}
	}

	idx := &Index{RepoPath: repoPath}
	seen := map[string]bool{}
	for _, target := range roots {
		root := filepath.Join(repoPath, target)
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if d.IsDir() {
				if skipDirs[d.Name()] {
					return filepath.SkipDir
				}
				return nil
			}
			lang, ok := codeExtensions[filepath.Ext(path)]
			if !ok {
				return nil
			}
			rel, err := filepath.Rel(repoPath, path)
			if err != nil {
				return fmt.Errorf("relative path for %s: %w", path, err)
			}
			rel = filepath.ToSlash(rel)
			if seen[rel] {
				return nil
			}

			summary, err := summarizeFile(path, rel, lang)
			if err != nil {
				return err
			}
			if summary == nil { // binary or unreadable, skipped
				return nil
			}
			seen[rel] = true
			idx.Files = append(idx.Files, *summary)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", target, err)
		}
	}

	sort.Slice(idx.Files, func(i, j int) bool { return idx.Files[i].Path < idx.Files[j].Path })
	return idx, nil
}

func summarizeFile(path, rel, lang string) (*FileSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", rel, err)
	}
	defer f.Close()

	buf := make([]byte, maxFileBytes)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return nil, nil
	}
	content := buf[:n]
	if !utf8.Valid(content) {
		return nil, nil
	}

	text := string(content)
	sum := sha256.Sum256(content)
	return &FileSummary{
		Path:     rel,
		Language: lang,
		Symbols:  extractSymbols(text, lang),
		Imports:  extractImports(text, lang),
		Doc:      leadingComment(text),
		Digest:   hex.EncodeToString(sum[:]),
		Lines:    strings.Count(text, "\n") + 1,
	}, nil
}

var (
	goFunc      = regexp.MustCompile(`(?m)^func\s+(?:\([^)]*\)\s+)?([A-Z]\w*)\s*\(`)
	goType      = regexp.MustCompile(`(?m)^type\s+([A-Z]\w*)\s`)
	pyDecl      = regexp.MustCompile(`(?m)^\s*(?:class|def)\s+(\w+)`)
	jsDecl      = regexp.MustCompile(`(?m)^\s*export\s+(?:default\s+)?(?:async\s+)?(?:function|class|const|interface|type)\s+(\w+)`)
	genericDecl = regexp.MustCompile(`(?m)^\s*(?:public|pub)\s+(?:static\s+|final\s+|abstract\s+)*(?:class|interface|struct|enum|fn|[\w<>\[\]]+)\s+(\w+)`)

	goImport  = regexp.MustCompile(`(?m)^\s*(?:import\s+)?(?:\w+\s+)?"([^"]+)"`)
	pyImport  = regexp.MustCompile(`(?m)^(?:from\s+(\S+)\s+import|import\s+(\S+))`)
	jsImport  = regexp.MustCompile(`(?m)^\s*import\s+.*?from\s+['"]([^'"]+)['"]`)
	genImport = regexp.MustCompile(`(?m)^\s*(?:#include\s+[<"]([^>"]+)[>"]|using\s+([\w.]+);|use\s+([\w:]+))`)
)

// extractSymbols pulls declared public symbols with per-language patterns,
// falling back to a generic declaration scan.
func extractSymbols(text, lang string) []string {
	var matches [][]string
	switch lang {
	case "go":
		matches = append(goFunc.FindAllStringSubmatch(text, -1), goType.FindAllStringSubmatch(text, -1)...)
	case "python", "ruby":
		matches = pyDecl.FindAllStringSubmatch(text, -1)
	case "javascript", "typescript":
		matches = jsDecl.FindAllStringSubmatch(text, -1)
	default:
		matches = genericDecl.FindAllStringSubmatch(text, -1)
	}
	return dedupeGroups(matches, 64)
}

func extractImports(text, lang string) []string {
	var matches [][]string
	switch lang {
	case "go":
		// Only the import section, not every string literal.
		if sec := goImportSection(text); sec != "" {
			matches = goImport.FindAllStringSubmatch(sec, -1)
		}
	case "python":
		matches = pyImport.FindAllStringSubmatch(text, -1)
	case "javascript", "typescript":
		matches = jsImport.FindAllStringSubmatch(text, -1)
	default:
		matches = genImport.FindAllStringSubmatch(text, -1)
	}
	return dedupeGroups(matches, 32)
}

func goImportSection(text string) string {
	start := strings.Index(text, "import (")
	if start >= 0 {
		if end := strings.Index(text[start:], ")"); end >= 0 {
			return text[start : start+end]
		}
	}
	var single []string
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "import ") {
			single = append(single, line)
		}
	}
	return strings.Join(single, "\n")
}

// dedupeGroups flattens submatch groups, keeping first occurrence order.
func dedupeGroups(matches [][]string, limit int) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range matches {
		for _, g := range m[1:] {
			if g == "" || seen[g] {
				continue
			}
			seen[g] = true
			out = append(out, g)
			if len(out) >= limit {
				return out
			}
		}
	}
	return out
}

// leadingComment captures the file's top comment block, a cheap stand-in for
// package or module documentation.
func leadingComment(text string) string {
	var doc []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "//"):
			doc = append(doc, strings.TrimSpace(strings.TrimPrefix(trimmed, "//")))
		case strings.HasPrefix(trimmed, "#") && !strings.HasPrefix(trimmed, "#!"):
			doc = append(doc, strings.TrimSpace(strings.TrimPrefix(trimmed, "#")))
		case trimmed == "":
			continue
		default:
			return strings.Join(doc, " ")
		}
		if len(doc) >= 10 {
			break
		}
	}
	return strings.Join(doc, " ")
}

// Summary returns the summary for a relative path, if indexed.
func (ix *Index) Summary(rel string) (FileSummary, bool) {
	for _, f := range ix.Files {
		if f.Path == rel {
			return f, true
		}
	}
	return FileSummary{}, false
}

// Paths lists indexed file paths in sorted order.
func (ix *Index) Paths() []string {
	out := make([]string, len(ix.Files))
	for i, f := range ix.Files {
		out[i] = f.Path
	}
	return out
}

// RelevantFiles ranks indexed files against free text by matching path
// segments and symbol names, returning at most max paths. An empty result
// means nothing in the index obviously relates to the text.
func (ix *Index) RelevantFiles(text string, max int) []string {
	words := tokenize(text)
	type scored struct {
		path  string
		score int
	}
	var ranked []scored
	for _, f := range ix.Files {
		score := 0
		haystack := strings.ToLower(f.Path + " " + strings.Join(f.Symbols, " ") + " " + f.Doc)
		for w := range words {
			if strings.Contains(haystack, w) {
				score++
			}
		}
		if score > 0 {
			ranked = append(ranked, scored{f.Path, score})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > max {
		ranked = ranked[:max]
	}
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.path
	}
	return out
}

func tokenize(text string) map[string]bool {
	words := map[string]bool{}
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		if len(w) >= 4 { // skip stopword-sized tokens
			words[w] = true
		}
	}
	return words
}

// Render produces the bounded textual context for the given files (all files
// when none given), truncated at maxBytes.
func (ix *Index) Render(files []string, maxBytes int) string {
	want := map[string]bool{}
	for _, f := range files {
		want[f] = true
	}

	var b strings.Builder
	for _, f := range ix.Files {
		if len(files) > 0 && !want[f.Path] {
			continue
		}
		fmt.Fprintf(&b, "file: %s (%s, %d lines)\n", f.Path, f.Language, f.Lines)
		if f.Doc != "" {
			fmt.Fprintf(&b, "  doc: %s\n", f.Doc)
		}
		if len(f.Symbols) > 0 {
			fmt.Fprintf(&b, "  symbols: %s\n", strings.Join(f.Symbols, ", "))
		}
		if len(f.Imports) > 0 {
			fmt.Fprintf(&b, "  imports: %s\n", strings.Join(f.Imports, ", "))
		}
		if maxBytes > 0 && b.Len() > maxBytes {
			break
		}
	}
	out := b.String()
	if maxBytes > 0 && len(out) > maxBytes {
		out = out[:maxBytes]
	}
	return out
}
