package asr

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// BPE word-boundary marker used by SentencePiece token tables.
const bpeSpace = "▁"

// Vocabulary is the token table of a transducer model, loaded from a
// tokens.txt file with one "<text> <id>" pair per line. The blank entry is
// part of the table.
type Vocabulary struct {
	tokens  []string
	blankID int
	unkID   int
}

// LoadVocabulary reads a tokens.txt file. Each line holds the token text
// followed by a space and the numeric token ID; the text itself may contain
// spaces, so the ID is split off at the last space. The table must contain a
// "<blk>" or "<blank>" entry. A "<unk>" entry is optional.
func LoadVocabulary(path string) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("asr: open token table: %w", err)
	}
	defer f.Close()

	v := &Vocabulary{blankID: -1, unkID: -1}

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Text()
		if raw == "" {
			continue
		}
		cut := strings.LastIndexByte(raw, ' ')
		if cut < 0 {
			return nil, fmt.Errorf("asr: token table %s line %d: no id separator", path, line)
		}
		text := raw[:cut]
		id, err := strconv.Atoi(strings.TrimSpace(raw[cut+1:]))
		if err != nil {
			return nil, fmt.Errorf("asr: token table %s line %d: bad id: %w", path, line, err)
		}
		if id < 0 {
			return nil, fmt.Errorf("asr: token table %s line %d: bad id %d", path, line, id)
		}
		for len(v.tokens) <= id {
			v.tokens = append(v.tokens, "")
		}
		v.tokens[id] = text
		switch text {
		case "<blk>", "<blank>":
			v.blankID = id
		case "<unk>":
			v.unkID = id
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("asr: read token table %s: %w", path, err)
	}
	if v.blankID < 0 {
		return nil, fmt.Errorf("asr: token table %s has no blank entry", path)
	}
	return v, nil
}

// NewVocabulary builds a table directly from token texts indexed by ID.
// Intended for tests.
func NewVocabulary(tokens []string, blankID, unkID int) *Vocabulary {
	return &Vocabulary{tokens: tokens, blankID: blankID, unkID: unkID}
}

// Size returns the number of token IDs, blank included.
func (v *Vocabulary) Size() int { return len(v.tokens) }

// BlankID returns the blank token's ID.
func (v *Vocabulary) BlankID() int { return v.blankID }

// Token returns the text of id, or "" for out-of-range IDs.
func (v *Vocabulary) Token(id int) string {
	if id < 0 || id >= len(v.tokens) {
		return ""
	}
	return v.tokens[id]
}

// Decode joins the given token IDs into readable text: blank and unknown
// entries are skipped, BPE word-boundary markers become spaces, and the
// result is trimmed.
func (v *Vocabulary) Decode(ids []int) string {
	var sb strings.Builder
	for _, id := range ids {
		if id == v.blankID || id == v.unkID {
			continue
		}
		sb.WriteString(v.Token(id))
	}
	return strings.TrimSpace(strings.ReplaceAll(sb.String(), bpeSpace, " "))
}
