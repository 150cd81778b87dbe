package links

import (
	"crypto/rand"
)

const base62Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// 248 is the largest multiple of 62 below 256; bytes at or above it are
// rejected so every symbol is equally likely.
const unbiasedLimit = 248

type CryptoSlugger struct{}

func NewCryptoSlugger() *CryptoSlugger { return &CryptoSlugger{} }

func (s *CryptoSlugger) Generate(length int) (string, error) {
	if length <= 0 {
		length = 6
	}

	out := make([]byte, 0, length)
	buf := make([]byte, length*2)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= unbiasedLimit {
				continue
			}
			out = append(out, base62Alphabet[int(b)%len(base62Alphabet)])
			if len(out) == length {
				break
			}
		}
	}

	return string(out), nil
}
