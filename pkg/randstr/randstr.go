package randstr

import "math/rand"

type generator struct {
	alphabet []byte
}

func New(alphabet []byte) *generator {
	return &generator{alphabet: alphabet}
}

func (g *generator) GenerateRandomString(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = g.alphabet[rand.Intn(len(g.alphabet))]
	}

	return string(b)
}
