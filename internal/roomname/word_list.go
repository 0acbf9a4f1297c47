package roomname

// Word pools for room names. Every word is lowercase ASCII without hyphens so
// joined names stay valid topics.

var places = []string{
	"harbor", "meadow", "canyon", "lagoon", "summit", "valley", "island", "delta", "plateau", "fjord",
	"orchard", "prairie", "glacier", "marsh", "grove", "atoll", "bayou", "cove", "dune", "estuary",
	"garden", "hollow", "inlet", "jungle", "knoll", "ledge", "mesa", "oasis", "quarry", "reef",
	"ridge", "savanna", "tundra", "vista", "wharf", "alcove", "basin", "crater", "forest", "geyser",
}

var weather = []string{
	"breeze", "drizzle", "thunder", "aurora", "monsoon", "frost", "mist", "squall", "sunbeam", "rainbow",
	"blizzard", "hail", "zephyr", "gale", "haze", "dew", "sleet", "cloudburst", "twilight", "dawn",
	"dusk", "eclipse", "tempest", "halo", "drift", "flurry", "glow", "shower", "spark", "tide",
}

var colors = []string{
	"amber", "azure", "coral", "crimson", "emerald", "indigo", "ivory", "jade", "lilac", "magenta",
	"ochre", "olive", "pearl", "ruby", "saffron", "scarlet", "sepia", "teal", "topaz", "umber",
	"violet", "cobalt", "copper", "golden", "silver", "cerulean", "mauve", "russet", "sable", "plum",
}

var instruments = []string{
	"cello", "banjo", "oboe", "tuba", "harp", "flute", "sitar", "ukulele", "marimba", "piccolo",
	"bassoon", "clarinet", "fiddle", "lute", "mandolin", "organ", "trumpet", "viola", "zither", "bongo",
	"cymbal", "gong", "kazoo", "lyre", "ocarina", "tabla", "timpani", "bugle", "dulcimer", "harmonica",
}

var trees = []string{
	"maple", "cedar", "willow", "birch", "aspen", "sequoia", "baobab", "cypress", "juniper", "magnolia",
	"acacia", "alder", "banyan", "chestnut", "elm", "hazel", "hemlock", "larch", "linden", "mahogany",
	"oak", "palm", "poplar", "redwood", "rowan", "spruce", "sycamore", "teak", "walnut", "yew",
}

var stars = []string{
	"vega", "sirius", "rigel", "altair", "deneb", "polaris", "antares", "capella", "castor", "pollux",
	"spica", "mira", "bellatrix", "procyon", "regulus", "arcturus", "aldebaran", "canopus", "electra", "maia",
}
