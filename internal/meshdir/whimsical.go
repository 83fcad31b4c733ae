package meshdir

import "math/rand/v2"

// adjectives and nouns are the fixed word lists a WhimsicalName is drawn
// from uniformly at random. Kept small and pronounceable so a freshly
// discovered session gets a name a human can say out loud.
var adjectives = []string{
	"ancient", "arctic", "azure", "bashful", "bold", "brave", "breezy",
	"bronze", "brisk", "calm", "candid", "clever", "cloudy", "cobalt",
	"crimson", "crisp", "dapper", "dashing", "dazzling", "dusty", "eager",
	"electric", "elegant", "faint", "fearless", "feisty", "fluffy", "foggy",
	"frank", "frosty", "gentle", "giddy", "gilded", "golden", "grand",
	"happy", "hasty", "hazy", "honest", "humble", "indigo", "ivory", "jolly",
	"jovial", "keen", "lanky", "lively", "lunar", "lush", "merry", "misty",
	"mossy", "nifty", "nimble", "nomadic", "nutty", "obscure", "placid",
	"plucky", "prim", "quiet", "radiant", "rapid", "restless", "rowdy",
	"rustic", "scarlet", "serene", "shy", "silent", "silver", "sly", "smoky",
	"sparse", "spry", "stark", "stormy", "sturdy", "sunny", "swift", "tawny",
	"tender", "thrifty", "timid", "tiny", "trusty", "vivid", "warm", "weary",
	"whimsical", "windy", "wistful", "wry", "zesty", "zany",
}

var nouns = []string{
	"antelope", "aspen", "badger", "bamboo", "beacon", "beetle", "bison",
	"boulder", "canyon", "cardinal", "chisel", "cinder", "comet", "compass",
	"cougar", "coyote", "cricket", "crow", "current", "deer", "delta",
	"dragonfly", "drifter", "egret", "ember", "fern", "finch", "fjord",
	"forge", "gazelle", "glacier", "gopher", "grove", "harbor", "hawk",
	"hollow", "horizon", "ibex", "iguana", "jackal", "jay", "juniper",
	"kiwi", "lagoon", "lark", "leopard", "llama", "lynx", "maple", "marlin",
	"meadow", "mesa", "moss", "moth", "nebula", "newt", "nimbus", "ocelot",
	"orbit", "osprey", "otter", "panther", "pebble", "phoenix", "pigeon",
	"plover", "prairie", "quartz", "rabbit", "rapids", "raven", "ridge",
	"robin", "salmon", "sandpiper", "sequoia", "sparrow", "sprout", "summit",
	"swan", "terrier", "thicket", "thrush", "timberwolf", "tundra", "turtle",
	"viper", "vulture", "warbler", "willow", "wren", "yak", "zebra",
}

// GenerateWhimsicalName draws <adjective>-<noun> uniformly at random from
// the fixed word lists.
func GenerateWhimsicalName() string {
	a := adjectives[rand.IntN(len(adjectives))]
	n := nouns[rand.IntN(len(nouns))]
	return a + "-" + n
}
