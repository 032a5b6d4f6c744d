package engine

import "strings"

// maxChunkRunes bounds one document fragment; long paragraphs are split on
// sentence boundaries.
const maxChunkRunes = 600

// splitDocument breaks a document into fragment-sized chunks. Paragraphs are
// the primary unit; oversized paragraphs split on sentence ends.
func splitDocument(text string) []string {
	var chunks []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len([]rune(para)) <= maxChunkRunes {
			chunks = append(chunks, para)
			continue
		}
		chunks = append(chunks, splitSentences(para)...)
	}
	return chunks
}

// splitSentences greedily packs sentences into chunks under maxChunkRunes.
// A single sentence over the budget is hard-split at the budget boundary.
func splitSentences(para string) []string {
	var (
		chunks  []string
		current []rune
	)
	flush := func() {
		if s := strings.TrimSpace(string(current)); s != "" {
			chunks = append(chunks, s)
		}
		current = current[:0]
	}

	start := 0
	runes := []rune(para)
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' && i != len(runes)-1 {
			continue
		}
		sentence := runes[start : i+1]
		start = i + 1

		for len(sentence) > maxChunkRunes {
			flush()
			current = append(current, sentence[:maxChunkRunes]...)
			flush()
			sentence = sentence[maxChunkRunes:]
		}
		if len(current)+len(sentence) > maxChunkRunes {
			flush()
		}
		current = append(current, sentence...)
	}
	flush()
	return chunks
}
