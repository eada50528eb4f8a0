package hash

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDigestHexRoundTrip(t *testing.T) {
	d := Bytes([]byte("hello"))
	parsed, err := DigestFromHex(d.Hex())
	if err != nil {
		t.Fatalf("DigestFromHex: %v", err)
	}
	if parsed != d {
		t.Errorf("round trip mismatch: got %s, want %s", parsed, d)
	}
}

func TestDigestFromHexInvalid(t *testing.T) {
	if _, err := DigestFromHex("not-hex"); err == nil {
		t.Error("expected error for non-hex input")
	}
	if _, err := DigestFromHex("ab"); err == nil {
		t.Error("expected error for short input")
	}
}

func TestShardHex(t *testing.T) {
	d := Bytes([]byte("shard-me"))
	hexStr := d.Hex()
	if d.ShardHex() != hexStr[:2] {
		t.Errorf("ShardHex() = %q, want %q", d.ShardHex(), hexStr[:2])
	}
	if d.ShardHex()+d.RestHex() != hexStr {
		t.Errorf("ShardHex+RestHex = %q, want %q", d.ShardHex()+d.RestHex(), hexStr)
	}
}

func TestUpdateTupleAvoidsPrefixCollision(t *testing.T) {
	h1 := New()
	h1.UpdateTupleStrings("ab", "c")
	d1 := h1.Finalize()

	h2 := New()
	h2.UpdateTupleStrings("a", "bc")
	d2 := h2.Finalize()

	if d1 == d2 {
		t.Error("length-prefixed tuple hashing must distinguish [\"ab\",\"c\"] from [\"a\",\"bc\"]")
	}

	// naive concatenation without length prefixes would collide
	naive1 := Bytes([]byte("ab" + "c"))
	naive2 := Bytes([]byte("a" + "bc"))
	if naive1 != naive2 {
		t.Fatalf("test setup invalid: naive concatenation should collide")
	}
}

func TestUpdateIsOrderSensitive(t *testing.T) {
	h1 := New()
	h1.UpdateString("foo")
	h1.UpdateString("bar")

	h2 := New()
	h2.UpdateString("bar")
	h2.UpdateString("foo")

	if h1.Finalize() == h2.Finalize() {
		t.Error("hash must be order-sensitive")
	}
}

func TestFileMatchesBytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	content := []byte("int main(void){return 0;}\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := File(path)
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	want := Bytes(content)
	if got != want {
		t.Errorf("File digest = %s, want %s", got, want)
	}
}

func TestFileMissing(t *testing.T) {
	if _, err := File(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("expected error for missing file")
	}
}
