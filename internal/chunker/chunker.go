package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/dshills/shelfsearch/pkg/types"
)

const (
	// DefaultMaxChunkSize is the default window size in bytes
	DefaultMaxChunkSize = 1000

	// DefaultOverlapSize is the default overlap between consecutive chunks
	DefaultOverlapSize = 200

	// DefaultMinChunkSize is the smallest non-final chunk that is kept
	DefaultMinChunkSize = 100

	// DefaultPrimaryTextLength bounds the text built by BuildPrimaryText
	DefaultPrimaryTextLength = 1000

	// SearchDescriptionLength bounds the description used by BuildSearchText
	SearchDescriptionLength = 500

	// MaxSearchGenres is the number of genres BuildSearchText includes
	MaxSearchGenres = 3

	// boundaryLookback is how far back from the window end a break is searched
	boundaryLookback = 100
)

// Options controls how text is windowed
type Options struct {
	MaxChunkSize int
	OverlapSize  int
	MinChunkSize int
}

// DefaultOptions returns 1000/200/100
func DefaultOptions() Options {
	return Options{
		MaxChunkSize: DefaultMaxChunkSize,
		OverlapSize:  DefaultOverlapSize,
		MinChunkSize: DefaultMinChunkSize,
	}
}

func (o Options) sanitize() Options {
	if o.MaxChunkSize <= 0 {
		o.MaxChunkSize = DefaultMaxChunkSize
	}
	if o.OverlapSize < 0 {
		o.OverlapSize = 0
	}
	if o.MinChunkSize < 0 {
		o.MinChunkSize = 0
	}
	return o
}

// Chunker splits item text for embedding
type Chunker struct {
	opts          Options
	maxTextLength int
}

// New creates a Chunker. maxTextLength bounds PrimaryText; <= 0 uses the default.
func New(opts Options, maxTextLength int) *Chunker {
	if maxTextLength <= 0 {
		maxTextLength = DefaultPrimaryTextLength
	}
	return &Chunker{opts: opts.sanitize(), maxTextLength: maxTextLength}
}

// Chunk splits text with the chunker's options
func (c *Chunker) Chunk(text string) []types.TextChunk {
	return Chunk(text, c.opts)
}

// PrimaryText builds the single embedding text for item
func (c *Chunker) PrimaryText(item types.LibraryItem) string {
	return BuildPrimaryText(item.Title, item.Author, item.Genres, item.Description, c.maxTextLength)
}

// Chunk splits text into overlapping windows of at most opts.MaxChunkSize
// bytes. Windows prefer to end after a sentence, then at a space, and only
// split a word when neither exists in the last 100 bytes of the window.
// Offsets always fall on rune boundaries.
func Chunk(text string, opts Options) []types.TextChunk {
	if text == "" {
		return nil
	}
	opts = opts.sanitize()

	if len(text) <= opts.MaxChunkSize {
		return []types.TextChunk{{
			Content:     text,
			Index:       0,
			TotalChunks: 1,
			StartOffset: 0,
			EndOffset:   len(text),
		}}
	}

	var chunks []types.TextChunk
	start := 0
	for start < len(text) {
		end := start + opts.MaxChunkSize
		if end >= len(text) {
			end = len(text)
		} else {
			end = breakPoint(text, start, end)
		}

		final := end == len(text)
		if final || end-start >= opts.MinChunkSize {
			chunks = append(chunks, types.TextChunk{
				Content:     text[start:end],
				StartOffset: start,
				EndOffset:   end,
			})
		}
		if final {
			break
		}

		next := end - opts.OverlapSize
		if next <= start {
			next = end
		}
		for next < len(text) && !utf8.RuneStart(text[next]) {
			next++
		}
		start = next
	}

	for i := range chunks {
		chunks[i].Index = i
		chunks[i].TotalChunks = len(chunks)
	}
	return chunks
}

// breakPoint picks where the window [start, end) should end. end < len(text).
func breakPoint(text string, start, end int) int {
	lo := max(start+1, end-boundaryLookback)

	// Sentence end: punctuation followed by whitespace, kept in this chunk
	for i := end - 1; i >= lo; i-- {
		if isSentenceEnd(text[i]) && i+1 < len(text) && isBreakSpace(text[i+1]) {
			return i + 1
		}
	}

	// Word boundary
	for i := end - 1; i >= lo; i-- {
		if isBreakSpace(text[i]) {
			return i
		}
	}

	// Mid-word, but never inside a rune
	cut := end
	for cut > start+1 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if !utf8.RuneStart(text[cut]) {
		cut = end
		for cut < len(text) && !utf8.RuneStart(text[cut]) {
			cut++
		}
	}
	return cut
}

func isSentenceEnd(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}

func isBreakSpace(b byte) bool {
	return b == ' ' || b == '\n'
}

// BuildPrimaryText combines the metadata of an item into one embedding text:
//
//	<title> by <author>
//	Genres: <g1>, <g2>
//	<description>
//
// The description is cut at a sentence boundary so the result stays within
// maxLen bytes. Missing fields are omitted.
func BuildPrimaryText(title, author string, genres []string, description string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultPrimaryTextLength
	}

	header := strings.TrimSpace(title)
	if a := strings.TrimSpace(author); a != "" {
		if header == "" {
			header = "by " + a
		} else {
			header += " by " + a
		}
	}

	var lines []string
	if header != "" {
		lines = append(lines, header)
	}
	if g := joinGenres(genres, 0); g != "" {
		lines = append(lines, "Genres: "+g)
	}

	text := strings.Join(lines, "\n")
	if len(text) > maxLen {
		return Truncate(text, maxLen)
	}

	desc := strings.TrimSpace(description)
	if desc == "" {
		return text
	}

	budget := maxLen - len(text)
	if text != "" {
		budget-- // newline
	}
	if budget <= 0 {
		return text
	}
	desc = Truncate(desc, budget)
	if text == "" {
		return desc
	}
	return text + "\n" + desc
}

// BuildSearchText is the lexical text the re-ranker scores an item by:
// title, author, artist, up to three genres and a shortened description.
func BuildSearchText(item types.LibraryItem) string {
	parts := make([]string, 0, 5)
	for _, s := range []string{item.Title, item.Author, item.Artist, joinGenres(item.Genres, MaxSearchGenres)} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	if desc := strings.TrimSpace(item.Description); desc != "" {
		parts = append(parts, Truncate(desc, SearchDescriptionLength))
	}
	return strings.Join(parts, " ")
}

func joinGenres(genres []string, limit int) string {
	kept := make([]string, 0, len(genres))
	for _, g := range genres {
		if g = strings.TrimSpace(g); g != "" {
			kept = append(kept, g)
		}
		if limit > 0 && len(kept) == limit {
			break
		}
	}
	return strings.Join(kept, ", ")
}

// Truncate shortens text to at most limit bytes. It cuts after the last
// sentence in range when that keeps at least half the budget, else at the
// last space, else at the last rune boundary.
func Truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	if limit <= 0 {
		return ""
	}

	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	head := text[:cut]

	if i := strings.LastIndexAny(head, ".!?"); i >= 0 && i+1 >= limit/2 {
		return head[:i+1]
	}
	if i := strings.LastIndexAny(head, " \n"); i > 0 {
		return strings.TrimRight(head[:i], " \n")
	}
	return head
}
