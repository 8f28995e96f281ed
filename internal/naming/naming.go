// Package naming generates human-friendly worker display names.
package naming

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/JakeFAU/shard-coordinator/internal/jobs"
)

var verbs = []string{
	"amble", "bake", "bind", "bloom", "bounce", "carve", "chase", "climb", "coil", "dance",
	"dash", "dig", "drift", "echo", "fetch", "flick", "float", "forge", "gather", "glide",
	"grasp", "hatch", "hover", "hum", "jolt", "juggle", "kindle", "knit", "launch", "leap",
	"linger", "mend", "mingle", "nudge", "orbit", "paddle", "paint", "pounce", "prowl", "quilt",
	"race", "ramble", "roam", "rustle", "sail", "scatter", "shimmer", "sift", "skip", "soar",
	"sprout", "stir", "swirl", "tinker", "topple", "trace", "tumble", "twirl", "wander", "weave",
	"whisk", "whistle", "wobble", "yodel", "zoom",
}

var nouns = []string{
	"acorn", "anchor", "badger", "beacon", "birch", "bison", "canyon", "comet", "coral", "crane",
	"delta", "dune", "ember", "falcon", "fern", "fjord", "gecko", "glacier", "harbor", "heron",
	"iris", "jackal", "kelp", "lagoon", "lantern", "lynx", "maple", "meadow", "meteor", "moose",
	"nebula", "newt", "oasis", "orchid", "otter", "owl", "pebble", "pine", "quartz", "quail",
	"raven", "reef", "ridge", "saffron", "salmon", "sequoia", "sparrow", "summit", "thistle", "tide",
	"tundra", "umber", "valley", "violet", "walrus", "willow", "yak", "zephyr",
}

// Generator produces verb-noun-N names with N in [0, 999].
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

var _ jobs.NameGenerator = (*Generator)(nil)

// New returns a generator seeded from the runtime's random source.
func New() *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// NewSeeded returns a deterministic generator.
func NewSeeded(seed1, seed2 uint64) *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(seed1, seed2))}
}

// Generate returns a fresh display name. Uniqueness is enforced by the
// worker store; callers retry on collision.
func (g *Generator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fmt.Sprintf("%s-%s-%d",
		verbs[g.rng.IntN(len(verbs))],
		nouns[g.rng.IntN(len(nouns))],
		g.rng.IntN(1000),
	)
}
