package vocab

import (
	"bufio"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Reserved id space below IDsBias. Ordinary vocabulary ids start at IDsBias.
const (
	PadID      = 0
	ReservedID = 1
	UnknownID  = 2
	JoinID     = 3
	IDsBias    = 4
)

// Vocab is a bidirectional token <-> integer-id mapping. It is built once
// from a frequency file (or a fixed class list) and read-only afterwards.
type Vocab struct {
	toID    map[string]int
	toToken map[int]string
	bias    int
	size    int
}

// Load reads a two-column `<token> <frequency>` file, one entry per line,
// and assigns ids in file order starting at idsBias. A line that does not
// split into exactly two fields is a parse error. Duplicate tokens are not
// rejected: the later line wins in the id->token direction.
func Load(path string, idsBias int) (*Vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open vocab file")
	}
	defer f.Close()

	var tokens []string
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		fields := strings.Fields(sc.Text())
		if len(fields) != 2 {
			return nil, errors.Errorf("%s:%d: expected `token freq`, got %d fields", path, lineNo, len(fields))
		}
		tokens = append(tokens, fields[0])
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read vocab file")
	}
	return New(tokens, idsBias), nil
}

// New builds a vocabulary from an ordered token list, ids starting at idsBias.
func New(tokens []string, idsBias int) *Vocab {
	v := &Vocab{
		toID:    make(map[string]int, len(tokens)),
		toToken: make(map[int]string, len(tokens)),
		bias:    idsBias,
		size:    len(tokens),
	}
	for i, tok := range tokens {
		v.toID[tok] = i + idsBias
		v.toToken[i+idsBias] = tok
	}
	return v
}

// NewLabelVocab maps label classes to ids starting at UnknownID, i.e. the
// conventional two-class mapping is {"0": 2, "1": 3}. The overlap with the
// unknown/join ids is deliberate: label ids live in their own stream and
// never mix with text ids. Unlike Load, duplicate classes are rejected.
func NewLabelVocab(classes []string) (*Vocab, error) {
	seen := make(map[string]struct{}, len(classes))
	for _, c := range classes {
		if _, dup := seen[c]; dup {
			return nil, errors.Errorf("duplicate label class %q", c)
		}
		seen[c] = struct{}{}
	}
	return New(classes, UnknownID), nil
}

// ID returns the id for a token.
func (v *Vocab) ID(token string) (int, bool) {
	id, ok := v.toID[token]
	return id, ok
}

// Token returns the token for an id.
func (v *Vocab) Token(id int) (string, bool) {
	tok, ok := v.toToken[id]
	return tok, ok
}

// Len is the number of distinct token entries (reserved ids excluded).
func (v *Vocab) Len() int { return v.size }

// Bias is the id assigned to the first token entry.
func (v *Vocab) Bias() int { return v.bias }

// Size is the total id space including the reserved range, i.e. Len + bias.
// This is the embedding-table size a model should allocate.
func (v *Vocab) Size() int { return v.size + v.bias }

// Encode maps tokens to ids, substituting UnknownID for tokens absent from
// the vocabulary. Pure function of its inputs.
func (v *Vocab) Encode(tokens []string) []int {
	ids := make([]int, len(tokens))
	for i, tok := range tokens {
		if id, ok := v.toID[tok]; ok {
			ids[i] = id
		} else {
			ids[i] = UnknownID
		}
	}
	return ids
}
