package naming

import "testing"

func TestValidProjectNameBoundaries(t *testing.T) {
	if !ValidProjectName("a") {
		t.Fatal("1-char name should be accepted")
	}
	if !ValidProjectName("abcdefghij0123456789abcdefghij0123456789"[:39]) {
		t.Fatal("39-char name should be accepted")
	}
	if ValidProjectName("abcdefghij0123456789abcdefghij0123456789"[:40]) {
		t.Fatal("40-char name should be rejected")
	}
	if ValidProjectName("-leading-hyphen") {
		t.Fatal("names must start alphanumeric")
	}
	if ValidProjectName("Uppercase") {
		t.Fatal("names must be lowercase")
	}
}

func TestValidEnvKey(t *testing.T) {
	cases := map[string]bool{
		"DEBUG":     true,
		"_PRIVATE":  true,
		"FOO_BAR123": true,
		"foo":       false,
		"1LEADING":  false,
		"HAS-DASH":  false,
	}
	for key, want := range cases {
		if got := ValidEnvKey(key); got != want {
			t.Errorf("ValidEnvKey(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestValidEnvValue(t *testing.T) {
	small := make([]byte, 32<<10)
	big := make([]byte, 32<<10+1)
	if !ValidEnvValue(string(small)) {
		t.Fatal("32 KiB value should be accepted")
	}
	if ValidEnvValue(string(big)) {
		t.Fatal("32 KiB + 1 value should be rejected")
	}
}

func TestHostDerivationWithDottedOwner(t *testing.T) {
	got := Host("john.doe", "booker", "pemasak.dev")
	want := "john-doe-booker.pemasak.dev"
	if got != want {
		t.Fatalf("Host() = %q, want %q", got, want)
	}
}

func TestSplitHost(t *testing.T) {
	owner, project, ok := SplitHost("john-doe-booker.pemasak.dev", "pemasak.dev")
	if !ok {
		t.Fatal("expected split to succeed")
	}
	if owner != "john-doe" || project != "booker" {
		t.Fatalf("got owner=%q project=%q", owner, project)
	}
}

func TestSplitHostRejectsWrongDomain(t *testing.T) {
	_, _, ok := SplitHost("john-doe-booker.other.dev", "pemasak.dev")
	if ok {
		t.Fatal("expected split to fail for mismatched base domain")
	}
}

func TestSplitHostCandidatesTriesEveryDash(t *testing.T) {
	candidates := SplitHostCandidates("a-b-c.pemasak.dev", "pemasak.dev")
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d: %+v", len(candidates), candidates)
	}
	if candidates[0].OwnerSlug != "a-b" || candidates[0].Project != "c" {
		t.Fatalf("unexpected first candidate: %+v", candidates[0])
	}
	if candidates[1].OwnerSlug != "a" || candidates[1].Project != "b-c" {
		t.Fatalf("unexpected second candidate: %+v", candidates[1])
	}
}
