package suggest

// curated maps each genre to hand-written prompts.
var curated = map[string][]string{
	"None": {
		"smooth melodic music with soft piano and warm strings",
		"gentle acoustic guitar over a slow brushed beat, calm and warm",
		"dreamy synth pads with a slow evolving melody",
	},
	"Pop":          {"bright upbeat pop with punchy drums, catchy synth hook and clean bass", "mid-tempo pop ballad with piano chords and airy pads"},
	"Rock":         {"driving rock with crunchy electric guitars, solid drums and deep bass", "anthemic stadium rock with big power chords and pounding toms"},
	"Jazz":         {"smoky late night jazz trio, walking upright bass, brushed drums, warm piano", "cool jazz with muted trumpet and relaxed swing"},
	"Classical":    {"elegant string quartet with flowing melody, calm adagio tempo", "solo piano piece, romantic and contemplative"},
	"Electronic":   {"modern electronic track with crisp synths, four on the floor kick, uplifting build", "glossy progressive electronic with layered arpeggios"},
	"Hip Hop":      {"boom bap beat with dusty drums, jazzy sample chops and deep bass", "laid-back hip hop groove with vinyl crackle and mellow keys"},
	"R&B":          {"silky R&B groove with smooth electric piano and soft snaps", "slow jam with warm bass and lush chords"},
	"Country":      {"twangy country with steel guitar, acoustic strumming and a steady shuffle", "open-road country with fiddle and warm harmonica"},
	"Folk":         {"intimate acoustic folk with fingerpicked guitar and soft harmonica", "campfire folk with banjo and upright bass"},
	"Ambient":      {"ethereal ambient soundscape with slow evolving pads and gentle reverb", "calm drifting textures, meditative and spacious"},
	"Lo-Fi":        {"lo-fi beat with vinyl crackle, mellow piano chords and soft drums, rainy day", "hazy lo-fi with tape wobble and muted guitar"},
	"Trap":         {"dark trap beat with rolling hi-hats, heavy 808 bass and sparse bells", "hard-hitting trap with booming kicks and eerie synth lead"},
	"Funk":         {"tight funk groove with slap bass, rhythmic guitar and horn stabs", "greasy funk with clavinet and syncopated drums"},
	"Soul":         {"warm vintage soul with organ, tight drums and brass section", "slow soul ballad with rich strings and electric piano"},
	"Disco":        {"sparkling disco with four on the floor beat, strings and funky bass", "late 70s disco with octave bass and shimmering guitar"},
	"City Pop":     {"80s city pop with glossy synths, slap bass and bright electric piano, night drive", "breezy city pop with jazzy chords and saxophone"},
	"Metal":        {"heavy metal with distorted guitars, double kick drums and aggressive riffs", "slow doom metal with crushing downtuned riffs"},
	"Punk":         {"fast raw punk with buzzing guitars and frantic drums", "melodic punk with driving power chords"},
	"Blues":        {"slow electric blues with expressive guitar bends and shuffling drums", "delta blues with slide guitar and stomping rhythm"},
	"Reggae":       {"relaxed reggae with offbeat guitar skank, deep bass and one drop drums", "dub reggae with echoing snares and heavy bass"},
	"World":        {"world fusion with hand percussion, kora and flowing flute", "middle eastern groove with oud and darbuka"},
	"Dark Ambient": {"dark ambient drone with low rumbling textures and distant metallic echoes", "ominous cavernous soundscape, slow and unsettling"},
	"Industrial":   {"industrial track with clanging metallic percussion and distorted bass", "mechanical industrial groove with harsh synths"},
	"Techno":       {"driving techno with hypnotic kick, rolling bassline and minimal synth stabs", "dark warehouse techno at 130 BPM"},
	"Cyberpunk":    {"cyberpunk synthwave with pulsing bass, neon arpeggios and gritty drums", "dystopian cyberpunk with glitchy synths and heavy beat"},
	"Glitch":       {"glitchy electronic with stuttering beats, chopped samples and bit-crushed textures", "playful glitch pop with granular synths"},
}

// Examples returns a few ready-to-use prompts for the usage guide.
func Examples() []string {
	return []string{
		curated["Jazz"][0],
		curated["Lo-Fi"][0],
		curated["City Pop"][0],
		curated["Ambient"][0],
	}
}

// Caption returns a generic prompt for a genre without curated prompts.
func Caption(genre string) string {
	if genre == "" || genre == "None" {
		return curated["None"][0]
	}
	return genre + " style music, professional studio production, warm and immersive sound"
}

// titleWords gives each genre a pool of descriptors for result titles.
var titleWords = map[string][]string{
	"Jazz":       {"smoky", "midnight", "velvet", "golden", "swinging"},
	"Ambient":    {"floating", "weightless", "still", "glacial", "infinite"},
	"Lo-Fi":      {"rainy", "dusty", "warm", "mellow", "quiet"},
	"Classical":  {"delicate", "flowing", "stately", "luminous", "grand"},
	"Electronic": {"radiant", "surging", "prismatic", "kinetic", "orbital"},
	"Rock":       {"thunderous", "blazing", "driven", "roaring", "massive"},
	"City Pop":   {"neon", "coastal", "glossy", "late", "breezy"},
	"Cyberpunk":  {"chrome", "neon", "wired", "electric", "rogue"},
}

// Title builds a human-readable name for a result from its genre and ID.
// The first bytes of id pick the descriptor, so a result keeps its title.
func Title(genre, id string) string {
	if id == "" {
		return ""
	}
	if genre == "" || genre == "None" {
		genre = "phantom"
	}
	words := titleWords[genre]
	if len(words) == 0 {
		return genre + " session"
	}
	var h int
	for i := 0; i < len(id) && i < 8; i++ {
		h = h*31 + int(id[i])
	}
	if h < 0 {
		h = -h
	}
	return words[h%len(words)] + " " + genre
}
