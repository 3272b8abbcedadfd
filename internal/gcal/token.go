package gcal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// TokenProvider supplies a bearer token on demand. An error or an empty
// token means no valid token is available.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	return string(s), nil
}

// FileToken reads the token from a file on every call so it can be rotated
// externally.
type FileToken struct {
	Path string
}

func (f FileToken) Token(context.Context) (string, error) {
	if f.Path == "" {
		return "", errors.New("token file is not configured")
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// bearer resolves a token or fails with ErrAuth.
func bearer(ctx context.Context, tp TokenProvider, op string) (string, error) {
	if tp == nil {
		return "", &Error{Op: op, Kind: ErrAuth}
	}
	tok, err := tp.Token(ctx)
	if err != nil {
		return "", &Error{Op: op, Kind: ErrAuth, Err: err}
	}
	if tok == "" {
		return "", &Error{Op: op, Kind: ErrAuth}
	}
	return tok, nil
}
