package guardrail

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
)

// DocumentProvider reads the platform-wide guardrails instruction document
// from disk and hands back its text alongside a SHA-256 version hash, which
// the lifecycle controller stamps on every agent it injects the document
// into. The file is re-read on every call — the underlying path is small and
// operator-edited, not hot — but the hash of the last successful read is
// cached so a transient read failure doesn't erase the last known version.
type DocumentProvider struct {
	path string

	mu          sync.Mutex
	lastText    string
	lastHash    string
	haveReading bool
}

// NewDocumentProvider builds a DocumentProvider reading from path.
func NewDocumentProvider(path string) *DocumentProvider {
	return &DocumentProvider{path: path}
}

// Current implements lifecycle.GuardrailsProvider.
func (p *DocumentProvider) Current(ctx context.Context) (string, string, error) {
	select {
	case <-ctx.Done():
		return "", "", ctx.Err()
	default:
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.haveReading {
			return p.lastText, p.lastHash, nil
		}
		return "", "", fmt.Errorf("read guardrails document: %w", err)
	}

	text := string(data)
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	p.mu.Lock()
	p.lastText = text
	p.lastHash = hash
	p.haveReading = true
	p.mu.Unlock()

	return text, hash, nil
}
