// Package remotetoken issues and validates the bearer tokens an embedded
// remote-agent session presents on every request. A token maps to
// exactly one agent for the agent's whole lifetime; there is no separate
// expiry — a token outlives its agent only until something revokes it or
// the agent ends.
package remotetoken

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

// TokenInfo is what a validated token resolves to.
type TokenInfo struct {
	AgentID      int64
	FeatureFlags map[string]bool
	CreatedAt    time.Time
}

// Service is a thread-safe in-memory token table. Zero value is not usable;
// build with New.
type Service struct {
	mu            sync.RWMutex
	byToken       map[string]TokenInfo
	tokenByAgent  map[int64]string
}

// New builds an empty token table.
func New() *Service {
	return &Service{
		byToken:      make(map[string]TokenInfo),
		tokenByAgent: make(map[int64]string),
	}
}

// Generate mints a fresh token for agentID, revoking any token already
// issued to that agent — an agent holds at most one live token.
func (s *Service) Generate(agentID int64, featureFlags map[string]bool) string {
	if featureFlags == nil {
		featureFlags = map[string]bool{}
	}
	token := newToken()

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.tokenByAgent[agentID]; ok {
		delete(s.byToken, old)
	}
	s.byToken[token] = TokenInfo{AgentID: agentID, FeatureFlags: featureFlags, CreatedAt: time.Now()}
	s.tokenByAgent[agentID] = token
	return token
}

// Validate resolves a token to its info, or returns false if unknown.
func (s *Service) Validate(token string) (TokenInfo, bool) {
	if token == "" {
		return TokenInfo{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.byToken[token]
	return info, ok
}

// ValidateForAgent validates a token and additionally requires it belong
// to agentID, so a token for agent A can never be replayed against agent B.
func (s *Service) ValidateForAgent(token string, agentID int64) (TokenInfo, bool) {
	info, ok := s.Validate(token)
	if !ok || info.AgentID != agentID {
		return TokenInfo{}, false
	}
	return info, true
}

// Revoke removes a token outright. Reports whether a token was actually
// removed.
func (s *Service) Revoke(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.byToken[token]
	if !ok {
		return false
	}
	delete(s.byToken, token)
	if s.tokenByAgent[info.AgentID] == token {
		delete(s.tokenByAgent, info.AgentID)
	}
	return true
}

// RevokeForAgent removes whatever token is currently issued to agentID, if
// any. Reports whether a token was actually removed.
func (s *Service) RevokeForAgent(agentID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokenByAgent[agentID]
	if !ok {
		return false
	}
	delete(s.byToken, token)
	delete(s.tokenByAgent, agentID)
	return true
}

// GetAgentID is a convenience wrapper over Validate for callers that only
// need the agent ID.
func (s *Service) GetAgentID(token string) (int64, bool) {
	info, ok := s.Validate(token)
	if !ok {
		return 0, false
	}
	return info.AgentID, true
}

// GetFeatureFlags is a convenience wrapper over Validate; an unknown token
// reports an empty flag set rather than an error, since callers use this to
// gate optional UI affordances, not to authorize requests.
func (s *Service) GetFeatureFlags(token string) map[string]bool {
	info, ok := s.Validate(token)
	if !ok {
		return map[string]bool{}
	}
	return info.FeatureFlags
}

// TokenCount reports the number of currently live tokens.
func (s *Service) TokenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byToken)
}

func newToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic("remotetoken: failed to read random bytes: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
