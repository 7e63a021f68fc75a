package spotifyuri

import "testing"

func TestNormalizeCanonicalURI(t *testing.T) {
	got, err := Normalize("spotify:track:6rqhFgbbKwnb9MLmUQDhG6")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "spotify:track:6rqhFgbbKwnb9MLmUQDhG6"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNormalizeWebLink(t *testing.T) {
	got, err := Normalize("https://open.spotify.com/track/6rqhFgbbKwnb9MLmUQDhG6")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "spotify:track:6rqhFgbbKwnb9MLmUQDhG6"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNormalizeWebLinkWithQueryString(t *testing.T) {
	got, err := Normalize("https://open.spotify.com/playlist/37i9dQZF1DXcBWIGoYBM5M?si=abc123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "spotify:playlist:37i9dQZF1DXcBWIGoYBM5M"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNormalizeTrimsWhitespace(t *testing.T) {
	got, err := Normalize("  spotify:album:abc  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "spotify:album:abc"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNormalizeRejectsUnrecognizedForm(t *testing.T) {
	if _, err := Normalize("not-a-spotify-reference"); err == nil {
		t.Error("expected error for unrecognized reference")
	}
}

func TestNormalizeRejectsUnknownResourceType(t *testing.T) {
	if _, err := Normalize("spotify:podcast:abc"); err == nil {
		t.Error("expected error for unsupported resource type")
	}
}

func TestNormalizeRejectsEmptyID(t *testing.T) {
	if _, err := Normalize("spotify:track:"); err == nil {
		t.Error("expected error for empty id")
	}
}

func TestParseReturnsKindAndID(t *testing.T) {
	kind, id, err := Parse("spotify:episode:xyz")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != "episode" || id != "xyz" {
		t.Errorf("got (%q, %q), want (%q, %q)", kind, id, "episode", "xyz")
	}
}

func TestParseWebLinkMalformedMissingID(t *testing.T) {
	if _, _, err := Parse("https://open.spotify.com/track"); err == nil {
		t.Error("expected error for missing id segment")
	}
}
