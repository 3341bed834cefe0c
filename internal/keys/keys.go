// Package keys manages gateway-issued virtual API keys. Raw keys are
// bcrypt-hashed at creation; lookups go through a SHA-256 index so the
// bcrypt comparison runs against a single candidate instead of the whole
// table.
package keys

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/felipepmaragno/ai-router/internal/domain"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type Repository interface {
	GetByAPIKey(ctx context.Context, apiKey string) (*domain.VirtualKey, error)
	GetByID(ctx context.Context, id string) (*domain.VirtualKey, error)
	Create(ctx context.Context, name string, budgetUSD float64) (*domain.VirtualKey, string, error)
}

type InMemoryRepository struct {
	mu      sync.RWMutex
	keys    map[string]*domain.VirtualKey
	byIndex map[string]string
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		keys:    make(map[string]*domain.VirtualKey),
		byIndex: make(map[string]string),
	}
}

// Seed registers a known raw key, for bootstrap configuration.
func (r *InMemoryRepository) Seed(ctx context.Context, name, rawKey string, budgetUSD float64) (*domain.VirtualKey, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	key := &domain.VirtualKey{
		ID:        uuid.New().String(),
		Name:      name,
		KeyHash:   string(hash),
		BudgetUSD: budgetUSD,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	r.mu.Lock()
	r.keys[key.ID] = key
	r.byIndex[lookupIndex(rawKey)] = key.ID
	r.mu.Unlock()

	return key, nil
}

// Create mints a new virtual key and returns it together with the raw key,
// which is shown once and never stored.
func (r *InMemoryRepository) Create(ctx context.Context, name string, budgetUSD float64) (*domain.VirtualKey, string, error) {
	rawKey := "sk-gw-" + uuid.New().String()
	key, err := r.Seed(ctx, name, rawKey, budgetUSD)
	if err != nil {
		return nil, "", err
	}
	return key, rawKey, nil
}

func (r *InMemoryRepository) GetByAPIKey(ctx context.Context, apiKey string) (*domain.VirtualKey, error) {
	r.mu.RLock()
	keyID, ok := r.byIndex[lookupIndex(apiKey)]
	if !ok {
		r.mu.RUnlock()
		return nil, domain.ErrInvalidAPIKey
	}
	key, ok := r.keys[keyID]
	r.mu.RUnlock()

	if !ok {
		return nil, domain.ErrKeyNotFound
	}

	if err := bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(apiKey)); err != nil {
		return nil, domain.ErrInvalidAPIKey
	}

	return key, nil
}

func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*domain.VirtualKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key, ok := r.keys[id]
	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	return key, nil
}

func lookupIndex(rawKey string) string {
	hash := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(hash[:])
}
