package orchestrator

import "strings"

// sentenceTerminators are the punctuation marks spec §4.B names as sentence
// boundaries: ASCII .!? plus the CJK equivalents 。！？.
const sentenceTerminators = ".!?。！？"

// SentenceChunkFunc splits streaming text into TTS-ready sentences. It is
// pluggable (spec §4.B: "pluggable function"); DefaultSentenceChunker is the
// spec's default rule.
type SentenceChunkFunc func(buffer string) (complete []string, remainder string)

// DefaultSentenceChunker splits buffer on a run of text followed by one of
// the sentence terminators. After an ASCII terminator (.!?) a boundary also
// needs whitespace or end-of-string; a full-width CJK terminator (。！？)
// ends the sentence on its own, since CJK text puts no space after it. Any
// trailing text without a terminator is returned as remainder so the caller
// can keep accumulating it.
//
// It is idempotent on concatenation (spec §8 invariant 7): chunking "a"
// then "b" and chunking "a"+"b" together produce the same complete
// sentences modulo a possibly-non-final tail, because the function only
// ever emits text up to and including a confirmed terminator+boundary; text
// after the last such boundary is always held back as remainder. The one
// exception is a split that falls right after an ASCII terminator: end of
// buffer counts as a boundary, so "v2." then "0 is out." yields two
// sentences where "v2.0 is out." yields one.
func DefaultSentenceChunker(buffer string) (complete []string, remainder string) {
	if buffer == "" {
		return nil, ""
	}

	runes := []rune(buffer)
	start := 0
	i := 0
	for i < len(runes) {
		if strings.ContainsRune(sentenceTerminators, runes[i]) {
			// Consume any run of adjacent terminators (e.g. "?!").
			j := i + 1
			for j < len(runes) && strings.ContainsRune(sentenceTerminators, runes[j]) {
				j++
			}
			// A sentence boundary requires whitespace after the terminator,
			// or end of the buffer, unless the run ends in a CJK terminator.
			if j >= len(runes) || isSpace(runes[j]) || strings.ContainsRune("。！？", runes[j-1]) {
				sentence := strings.TrimSpace(string(runes[start:j]))
				if sentence != "" {
					complete = append(complete, sentence)
				}
				start = j
				i = j
				continue
			}
			i = j
			continue
		}
		i++
	}

	remainder = strings.TrimLeft(string(runes[start:]), " \t\r\n")
	return complete, remainder
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r':
		return true
	default:
		return false
	}
}

// FlushSentence returns the remainder as a final sentence, even without a
// terminator, matching spec §4.B's "flush any remaining buffered text as a
// final sentence" rule when the LLM stream ends.
func FlushSentence(remainder string) (string, bool) {
	s := strings.TrimSpace(remainder)
	if s == "" {
		return "", false
	}
	return s, true
}
