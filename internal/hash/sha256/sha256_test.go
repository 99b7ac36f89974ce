package sha256

import "testing"

func TestDigestKnownValue(t *testing.T) {
	t.Parallel()

	d := New()
	got := d.Digest([]byte("hello world"))
	want := "sha256:b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if again := d.Digest([]byte("hello world")); again != got {
		t.Fatalf("expected deterministic digest, got %s vs %s", got, again)
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()

	d := New()
	digest := d.Digest([]byte(`{"session_id":"s1"}`))
	if !d.Verify([]byte(`{"session_id":"s1"}`), digest) {
		t.Fatal("expected digest to verify")
	}
	if d.Verify([]byte(`{"session_id":"s2"}`), digest) {
		t.Fatal("expected mismatch for different content")
	}
	if d.Verify([]byte(`{"session_id":"s1"}`), digest[len("sha256:"):]) {
		t.Fatal("expected unprefixed digest to be rejected")
	}
}
