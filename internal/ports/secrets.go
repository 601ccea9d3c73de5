package ports

// SecretStore persists credentials outside the config file.
type SecretStore interface {
	// Get returns the stored secret, or nil if none exists.
	Get(key string) ([]byte, error)

	// Set stores a secret under key.
	Set(key string, secret []byte) error

	// Delete removes the secret. Deleting a missing key is not an error.
	Delete(key string) error
}

// PasswordPrompter asks the operator for a secret interactively.
// Implementations may use TUI forms or test fakes.
type PasswordPrompter interface {
	// PromptPassword shows title and returns the entered value.
	PromptPassword(title string) (string, error)
}
