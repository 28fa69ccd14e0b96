package classroom

import (
	"math/rand"
	"sync"
	"time"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 6
)

// Palette holds the class card colours.
var Palette = []string{
	"#1E88E5", "#43A047", "#E53935", "#8E24AA", "#FB8C00",
	"#00ACC1", "#3949AB", "#D81B60", "#6D4C41", "#757575",
}

// codeGenerator draws join codes and colours. Codes are not cryptographically random and uniqueness is not
// checked.
type codeGenerator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func newCodeGenerator(seed int64) *codeGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &codeGenerator{rnd: rand.New(rand.NewSource(seed))}
}

func (g *codeGenerator) Code() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	code := make([]byte, codeLength)
	for i := range code {
		code[i] = codeAlphabet[g.rnd.Intn(len(codeAlphabet))]
	}
	return string(code)
}

func (g *codeGenerator) Color() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Palette[g.rnd.Intn(len(Palette))]
}
