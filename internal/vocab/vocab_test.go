package vocab

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeVocabFile(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vocab.txt")
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatalf("writing vocab file: %v", err)
	}
	return path
}

func TestLoadAssignsIDsInFileOrder(t *testing.T) {
	path := writeVocabFile(t, "the 10\ncat 5\n")
	v, err := Load(path, IDsBias)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, _ := v.ID("the"); got != 4 {
		t.Errorf("ID(the) = %d, want 4", got)
	}
	if got, _ := v.ID("cat"); got != 5 {
		t.Errorf("ID(cat) = %d, want 5", got)
	}
	if v.Len() != 2 {
		t.Errorf("Len = %d, want 2", v.Len())
	}
	if v.Size() != 6 {
		t.Errorf("Size = %d, want 6", v.Size())
	}
}

func TestLoadRoundTrip(t *testing.T) {
	path := writeVocabFile(t, "a 3\nb 2\nc 1\nd 9\n")
	const bias = 4
	v, err := Load(path, bias)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// token->id and id->token must be exact inverses over [bias, bias+K).
	for id := bias; id < bias+v.Len(); id++ {
		tok, ok := v.Token(id)
		if !ok {
			t.Fatalf("no token for id %d", id)
		}
		back, ok := v.ID(tok)
		if !ok || back != id {
			t.Errorf("ID(Token(%d)) = %d, want %d", id, back, id)
		}
	}
	if _, ok := v.Token(bias - 1); ok {
		t.Error("reserved id should have no token")
	}
	if _, ok := v.Token(bias + v.Len()); ok {
		t.Error("id past the vocabulary should have no token")
	}
}

func TestLoadRejectsMalformedLine(t *testing.T) {
	for _, bad := range []string{"onlytoken\n", "too many fields\n"} {
		path := writeVocabFile(t, bad)
		if _, err := Load(path, IDsBias); err == nil {
			t.Errorf("Load(%q) should fail", bad)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.txt"), IDsBias); err == nil {
		t.Error("Load of a missing file should fail")
	}
}

func TestLoadDuplicateTokenLaterWins(t *testing.T) {
	path := writeVocabFile(t, "dup 10\nother 5\ndup 1\n")
	v, err := Load(path, IDsBias)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// The duplicate's later line owns the token->id entry, and both ids
	// still map back to the token text.
	if got, _ := v.ID("dup"); got != 6 {
		t.Errorf("ID(dup) = %d, want 6 (later line wins)", got)
	}
	if tok, _ := v.Token(4); tok != "dup" {
		t.Errorf("Token(4) = %q, want dup", tok)
	}
	if tok, _ := v.Token(6); tok != "dup" {
		t.Errorf("Token(6) = %q, want dup", tok)
	}
}

func TestEncodeSubstitutesUnknown(t *testing.T) {
	path := writeVocabFile(t, "the 10\ncat 5\n")
	v, err := Load(path, IDsBias)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := v.Encode([]string{"the", "dog"})
	if !reflect.DeepEqual(got, []int{4, UnknownID}) {
		t.Errorf("Encode = %v, want [4 2]", got)
	}
	if got := v.Encode(nil); len(got) != 0 {
		t.Errorf("Encode(nil) = %v, want empty", got)
	}
}

func TestNewLabelVocab(t *testing.T) {
	v, err := NewLabelVocab([]string{"0", "1"})
	if err != nil {
		t.Fatalf("NewLabelVocab: %v", err)
	}
	if got, _ := v.ID("0"); got != 2 {
		t.Errorf("ID(0) = %d, want 2", got)
	}
	if got, _ := v.ID("1"); got != 3 {
		t.Errorf("ID(1) = %d, want 3", got)
	}
	if v.Size() != 4 {
		t.Errorf("Size = %d, want 4", v.Size())
	}

	if _, err := NewLabelVocab([]string{"0", "0"}); err == nil {
		t.Error("duplicate label classes should be rejected")
	}
}
