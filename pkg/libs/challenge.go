package libs

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

const (
	challengeTTL   = 5 * time.Minute
	challengeBytes = 32
)

// ChallengeStore hands out single use sign-in nonces.
type ChallengeStore struct {
	cache *cache.Cache
}

func NewChallengeStore(ttl time.Duration) *ChallengeStore {
	if ttl <= 0 {
		ttl = challengeTTL
	}
	return &ChallengeStore{cache: cache.New(ttl, 2*ttl)}
}

// Issue returns a fresh nonce and the id it is stored under.
func (s *ChallengeStore) Issue() (string, []byte, error) {
	nonce := make([]byte, challengeBytes)
	if _, err := rand.Read(nonce); err != nil {
		return "", nil, err
	}
	id := uuid.NewString()
	s.cache.Set(id, nonce, cache.DefaultExpiration)
	return id, nonce, nil
}

// Consume returns the nonce stored under id and forgets it, so every nonce
// can be answered once.
func (s *ChallengeStore) Consume(id string) ([]byte, bool) {
	if id == "" {
		return nil, false
	}
	x, found := s.cache.Get(id)
	if !found {
		return nil, false
	}
	s.cache.Delete(id)
	nonce, ok := x.([]byte)
	return nonce, ok
}
