package store

// ChatID returns the canonical id of the conversation between two users.
// The lexically smaller uid always comes first so both sides derive the
// same id without coordination.
func ChatID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "_" + b
}
