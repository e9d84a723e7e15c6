package docchunk

import (
	"regexp"
	"strings"

	"github.com/hybridsearch/docengine/internal/chunk"
)

// sentenceBoundary approximates sentence ends: a period/question/bang
// followed by whitespace and a capital letter, or by whitespace at the
// end of the text.
var sentenceBoundary = regexp.MustCompile(`(?:[.!?])\s+(?:[A-Z]|$)`)

// chunkPlainText splits unstructured text into fixed token windows
// along sentence boundaries, with a trailing overlap carried into the
// next window so a match near a window edge isn't lost to the split.
func chunkPlainText(text string) ([]*chunk.Chunk, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil, nil
	}

	var chunks []*chunk.Chunk
	var window []string
	windowTokens := 0

	flush := func() {
		if len(window) == 0 {
			return
		}
		content := strings.Join(window, " ")
		chunks = append(chunks, &chunk.Chunk{
			Content:     content,
			RawContent:  content,
			ContentType: chunk.ContentTypeText,
		})
	}

	for _, sent := range sentences {
		tokens := len(sent) / chunk.TokensPerChar
		if windowTokens > 0 && windowTokens+tokens > chunk.DefaultMaxChunkTokens {
			flush()
			window = overlapTail(window, chunk.DefaultOverlapTokens)
			windowTokens = 0
			for _, s := range window {
				windowTokens += len(s) / chunk.TokensPerChar
			}
		}
		window = append(window, sent)
		windowTokens += tokens
	}
	flush()

	return chunks, nil
}

func splitSentences(text string) []string {
	idxs := sentenceBoundary.FindAllStringIndex(text, -1)
	if len(idxs) == 0 {
		return []string{text}
	}

	var out []string
	start := 0
	for _, loc := range idxs {
		end := loc[1]
		if end > len(text) {
			end = len(text)
		}
		// The match ends on the next sentence's capital letter; cut before it.
		if c := text[end-1]; c >= 'A' && c <= 'Z' {
			end--
		}
		s := strings.TrimSpace(text[start:end])
		if s != "" {
			out = append(out, s)
		}
		start = end
	}
	if start < len(text) {
		if s := strings.TrimSpace(text[start:]); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// overlapTail keeps trailing sentences from window up to roughly
// overlapTokens worth of content, to seed the next window.
func overlapTail(window []string, overlapTokens int) []string {
	var kept []string
	tokens := 0
	for i := len(window) - 1; i >= 0 && tokens < overlapTokens; i-- {
		kept = append([]string{window[i]}, kept...)
		tokens += len(window[i]) / chunk.TokensPerChar
	}
	return kept
}
