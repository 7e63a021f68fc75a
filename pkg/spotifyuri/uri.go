// Package spotifyuri normalizes the two equivalent notations for a Spotify
// resource: the spotify:{type}:<id> URI and its
// https://open.spotify.com/<type>/<id> web-link form (spec.md §6).
package spotifyuri

import (
	"fmt"
	"strings"
)

var validTypes = map[string]bool{
	"track":    true,
	"album":    true,
	"playlist": true,
	"artist":   true,
	"show":     true,
	"episode":  true,
}

// Normalize accepts either notation and returns the canonical
// spotify:{type}:<id> form. It returns an error if raw is neither form or
// names an unrecognized resource type.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)

	switch {
	case strings.HasPrefix(raw, "spotify:"):
		kind, id, err := parseURI(raw)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("spotify:%s:%s", kind, id), nil

	case strings.HasPrefix(raw, "https://open.spotify.com/"), strings.HasPrefix(raw, "http://open.spotify.com/"):
		kind, id, err := parseWebLink(raw)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("spotify:%s:%s", kind, id), nil

	default:
		return "", fmt.Errorf("spotifyuri: unrecognized resource reference %q", raw)
	}
}

// Parse splits a canonical spotify:{type}:<id> URI (or a web-link form) into
// its resource type and id.
func Parse(raw string) (kind, id string, err error) {
	if strings.HasPrefix(raw, "spotify:") {
		return parseURI(raw)
	}
	return parseWebLink(raw)
}

func parseURI(raw string) (kind, id string, err error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 || parts[0] != "spotify" {
		return "", "", fmt.Errorf("spotifyuri: malformed uri %q", raw)
	}
	if !validTypes[parts[1]] {
		return "", "", fmt.Errorf("spotifyuri: unsupported resource type %q", parts[1])
	}
	if parts[2] == "" {
		return "", "", fmt.Errorf("spotifyuri: empty id in %q", raw)
	}
	return parts[1], parts[2], nil
}

func parseWebLink(raw string) (kind, id string, err error) {
	trimmed := strings.TrimPrefix(raw, "https://open.spotify.com/")
	trimmed = strings.TrimPrefix(trimmed, "http://open.spotify.com/")
	trimmed = strings.SplitN(trimmed, "?", 2)[0]

	segments := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(segments) != 2 {
		return "", "", fmt.Errorf("spotifyuri: malformed web link %q", raw)
	}
	if !validTypes[segments[0]] {
		return "", "", fmt.Errorf("spotifyuri: unsupported resource type %q", segments[0])
	}
	if segments[1] == "" {
		return "", "", fmt.Errorf("spotifyuri: empty id in %q", raw)
	}
	return segments[0], segments[1], nil
}
