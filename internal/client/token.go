package client

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gaspardpetit/questlink/internal/gateway"
)

// TokenFileRefresher re-reads path whenever the server rejects the current
// token. An empty file yields no token, so the rejected call is not retried.
func TokenFileRefresher(path string) gateway.RefreshFunc {
	return func(context.Context) (string, error) {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read token file: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
}

// initialToken prefers an explicit token and falls back to the token file.
func initialToken(token, file string) string {
	if token != "" || file == "" {
		return token
	}
	tok, err := TokenFileRefresher(file)(context.Background())
	if err != nil {
		return ""
	}
	return tok
}
