package musicgen

// GenreNone leaves the prompt untouched.
const GenreNone = "None"

var genres = []string{
	GenreNone,
	"Pop", "Rock", "Jazz", "Classical", "Electronic", "Hip Hop", "R&B",
	"Country", "Folk", "Ambient", "Lo-Fi", "Trap", "Funk", "Soul", "Disco",
	"City Pop", "Metal", "Punk", "Blues", "Reggae", "World",
	"Dark Ambient", "Industrial", "Techno", "Cyberpunk", "Glitch",
}

var genreSet = func() map[string]bool {
	m := make(map[string]bool, len(genres))
	for _, g := range genres {
		m[g] = true
	}
	return m
}()

// Genres returns the selectable genres in display order, GenreNone first.
func Genres() []string {
	return append([]string(nil), genres...)
}

// IsValidGenre reports whether name is one of Genres. Matching is exact.
func IsValidGenre(name string) bool {
	return genreSet[name]
}
