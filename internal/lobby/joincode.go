package lobby

import (
	"fmt"
	"math/rand"
	"strings"
)

// Join codes read ADJECTIVE-NOUN-NN so players can shout them across a
// room. Two-digit suffix keeps collisions rare; on repeated collision we
// fall back to an id-derived code that cannot collide.
var (
	codeAdjectives = []string{
		"SWIFT", "TURBO", "BLAZING", "RAPID", "NITRO",
		"DRIFT", "APEX", "REDLINE", "MIDNIGHT", "CHROME",
		"ROGUE", "SAVAGE", "ELECTRIC", "COSMIC", "FEARLESS",
		"GRAVEL", "ALPINE", "DESERT", "ARCTIC", "NEON",
	}
	codeNouns = []string{
		"FALCON", "VIPER", "COMET", "THUNDER", "STORM",
		"PHANTOM", "COBRA", "ROCKET", "BANDIT", "STALLION",
		"HORNET", "RAPTOR", "CYCLONE", "PANTHER", "METEOR",
		"SCORPION", "LYNX", "CONDOR", "JACKAL", "MUSTANG",
	}
)

const codeAttempts = 10

func randomCode(rng *rand.Rand) string {
	adjective := codeAdjectives[rng.Intn(len(codeAdjectives))]
	noun := codeNouns[rng.Intn(len(codeNouns))]
	return fmt.Sprintf("%s-%s-%d", adjective, noun, 10+rng.Intn(90))
}

func fallbackCode(lobbyID string) string {
	suffix := strings.ReplaceAll(lobbyID, "-", "")
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return "LOBBY-" + strings.ToUpper(suffix)
}
