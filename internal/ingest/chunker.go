// Package ingest turns raw document sources into indexed knowledge chunks.
package ingest

import (
	"strings"
)

// ChunkerConfig controls the target chunk size and the overlap carried from
// the end of one chunk into the start of the next, both in runes.
type ChunkerConfig struct {
	ChunkSize int
	Overlap   int
}

// breakRunes are preferred split points, checked from most to least natural.
var breakRunes = [][]rune{
	{'\n'},
	{'。', '！', '？', '.', '!', '?'},
	{'；', ';', '，', ','},
	{' '},
}

// SplitText chunks text along natural boundaries. Paragraphs are merged until
// the target size is reached; oversized paragraphs are split at the latest
// sentence or clause boundary before the limit. Empty chunks are never
// produced.
func SplitText(text string, cfg ChunkerConfig) []string {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1024
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.ChunkSize {
		cfg.Overlap = 0
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []string
	var current []rune

	flush := func() {
		chunk := strings.TrimSpace(string(current))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if cfg.Overlap > 0 && len(current) > cfg.Overlap {
			tail := make([]rune, cfg.Overlap)
			copy(tail, current[len(current)-cfg.Overlap:])
			current = tail
		} else {
			current = current[:0]
		}
	}

	for _, paragraph := range strings.Split(text, "\n\n") {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}

		runes := []rune(paragraph)
		if len(current) > 0 && len(current)+len(runes)+1 > cfg.ChunkSize {
			flush()
		}

		for len(runes) > 0 {
			space := cfg.ChunkSize - len(current)
			if len(runes) <= space {
				if len(current) > 0 {
					current = append(current, '\n')
				}
				current = append(current, runes...)
				break
			}

			cut := findBreak(runes, space)
			if len(current) > 0 {
				current = append(current, '\n')
			}
			current = append(current, runes[:cut]...)
			runes = runes[cut:]
			flush()
		}
	}

	chunk := strings.TrimSpace(string(current))
	if chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// findBreak picks the latest natural break point at or before limit, falling
// back to a hard cut when none exists.
func findBreak(runes []rune, limit int) int {
	if limit <= 0 {
		return 1
	}
	if limit > len(runes) {
		limit = len(runes)
	}
	for _, candidates := range breakRunes {
		for i := limit - 1; i > limit/2; i-- {
			for _, b := range candidates {
				if runes[i] == b {
					return i + 1
				}
			}
		}
	}
	return limit
}
