package config

import "crypto/rand"

const alnumAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// mustRandomAlnum generates a random alphanumeric string of length n, for
// default secret/admin-key generation. Panics on CSPRNG failure, which
// should only happen if the OS's entropy source is unavailable — a
// condition default generation cannot recover from anyway.
func mustRandomAlnum(n int) string {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		panic("config: failed to read random bytes: " + err.Error())
	}

	out := make([]byte, n)
	for i, b := range raw {
		out[i] = alnumAlphabet[int(b)%len(alnumAlphabet)]
	}
	return string(out)
}
