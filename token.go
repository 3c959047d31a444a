package alloy

// Token is an opaque injectable value placeholder. Tokens never resolve as
// services; they only yield values explicitly provided to a Container via
// ProvideValue.
type Token struct {
	description string
}

// CreateToken creates a new Token. description is purely diagnostic.
func CreateToken(description string) *Token {
	return &Token{description: description}
}

// Description returns the token's human-readable description.
func (t *Token) Description() string { return t.description }
