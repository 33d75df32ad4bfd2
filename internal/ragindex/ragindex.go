// Package ragindex implements a lexical stand-in for retrieval-augmented
// search over the project tree: no embedding model is available anywhere
// in this codebase's dependency stack, so relevance is scored with a
// classic TF-IDF over 40-line chunks of each file rather than vector similarity. It
// reuses the same gitignore-aware walk filesearch.Searcher performs, so
// rag_search and grep/glob agree on what counts as "the project".
package ragindex

import (
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"codi/internal/filesearch"
)

// maxFileBytes skips unusually large files the same way filesearch does,
// so a vendored binary or lockfile can't dominate the corpus.
const maxFileBytes = 1 << 20

// chunkLines is the granularity a file is split into: small enough that a
// match's surrounding context stays readable, large enough to keep the
// token vocabulary per chunk meaningful.
const chunkLines = 40

var tokenRe = regexp.MustCompile(`[A-Za-z0-9_]+`)

// Chunk is one scored unit of the corpus: a contiguous line range of a
// single file.
type Chunk struct {
	Path      string
	StartLine int
	EndLine   int
	Text      string
}

// Index is a built lexical corpus ready for Search.
type Index struct {
	root    string
	chunks  []Chunk
	tf      []map[string]int // term frequency per chunk, parallel to chunks
	df      map[string]int   // document frequency across chunks
	built   bool
}

// NewIndex creates an empty index rooted at dir.
func NewIndex(root string) *Index {
	return &Index{root: root, df: make(map[string]int)}
}

// Built reports whether Build has run at least once.
func (idx *Index) Built() bool { return idx.built }

// NumChunks returns how many chunks the corpus currently holds.
func (idx *Index) NumChunks() int { return len(idx.chunks) }

// NumFiles returns how many distinct files contributed chunks.
func (idx *Index) NumFiles() int {
	seen := make(map[string]struct{})
	for _, c := range idx.chunks {
		seen[c.Path] = struct{}{}
	}
	return len(seen)
}

// Build walks the project tree (respecting .gitignore, via the same
// matcher filesearch uses) and re-chunks every text file into the corpus,
// replacing any previous contents.
func (idx *Index) Build() error {
	matcher, err := filesearch.NewGitignoreMatcher(filepath.Join(idx.root, ".gitignore"))
	if err != nil {
		matcher, _ = filesearch.NewGitignoreMatcher("")
	}

	var chunks []Chunk
	err = filepath.WalkDir(idx.root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		rel, relErr := filepath.Rel(idx.root, path)
		if relErr != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			if matcher.Matches(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if matcher.Matches(rel, false) {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > maxFileBytes || info.Size() == 0 {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil || !isLikelyText(data) {
			return nil
		}
		chunks = append(chunks, chunkFile(rel, string(data))...)
		return nil
	})
	if err != nil {
		return err
	}

	idx.chunks = chunks
	idx.tf = make([]map[string]int, len(chunks))
	idx.df = make(map[string]int)
	for i, c := range chunks {
		tf := make(map[string]int)
		for _, tok := range tokenize(c.Text) {
			tf[tok]++
		}
		idx.tf[i] = tf
		for tok := range tf {
			idx.df[tok]++
		}
	}
	idx.built = true
	return nil
}

// ScoredChunk pairs a Chunk with its relevance score for one query.
type ScoredChunk struct {
	Chunk
	Score float64
}

// Search scores every chunk against query's tokens with a standard
// log-TF * log-IDF weighting and returns the top maxResults, highest score
// first. Ties break by path then start line for deterministic output.
func (idx *Index) Search(query string, maxResults int) []ScoredChunk {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 || len(idx.chunks) == 0 {
		return nil
	}
	n := float64(len(idx.chunks))

	var results []ScoredChunk
	for i, c := range idx.chunks {
		var score float64
		for _, tok := range queryTokens {
			tf := idx.tf[i][tok]
			if tf == 0 {
				continue
			}
			df := idx.df[tok]
			idf := math.Log(1 + n/float64(df))
			score += (1 + math.Log(float64(tf))) * idf
		}
		if score > 0 {
			results = append(results, ScoredChunk{Chunk: c, Score: score})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Path != results[j].Path {
			return results[i].Path < results[j].Path
		}
		return results[i].StartLine < results[j].StartLine
	})

	if maxResults > 0 && len(results) > maxResults {
		results = results[:maxResults]
	}
	return results
}

func chunkFile(relPath, content string) []Chunk {
	lines := strings.Split(content, "\n")
	var chunks []Chunk
	for start := 0; start < len(lines); start += chunkLines {
		end := start + chunkLines
		if end > len(lines) {
			end = len(lines)
		}
		text := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(text) == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			Path:      relPath,
			StartLine: start + 1,
			EndLine:   end,
			Text:      text,
		})
	}
	return chunks
}

func tokenize(text string) []string {
	matches := tokenRe.FindAllString(strings.ToLower(text), -1)
	return matches
}

// isLikelyText rejects files containing a NUL byte in their first 8KB, the
// same heuristic git itself uses to decide binary-vs-text.
func isLikelyText(data []byte) bool {
	probe := data
	if len(probe) > 8192 {
		probe = probe[:8192]
	}
	for _, b := range probe {
		if b == 0 {
			return false
		}
	}
	return true
}
