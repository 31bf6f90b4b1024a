package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"authcore/internal/models"
)

// Class distinguishes the three signing-key managers every tenant carries.
type Class string

const (
	ClassAccessToken  Class = "access_token"
	ClassRefreshToken Class = "refresh_token"
	ClassJWT          Class = "jwt"
)

// UnsupportedJWTSigningAlgorithmError is returned when a tenant's core config
// names a JWT algorithm this core cannot sign with.
type UnsupportedJWTSigningAlgorithmError struct {
	Algorithm string
}

func (e *UnsupportedJWTSigningAlgorithmError) Error() string {
	return fmt.Sprintf("unsupported JWT signing algorithm %q", e.Algorithm)
}

// IsUnsupportedJWTSigningAlgorithmError checks if an error is an
// UnsupportedJWTSigningAlgorithmError
func IsUnsupportedJWTSigningAlgorithmError(err error) bool {
	var target *UnsupportedJWTSigningAlgorithmError
	return errors.As(err, &target)
}

// randRead is stubbed in tests to exercise entropy failures.
var randRead = rand.Read

// KeyInfo is one generation of key material. Times are epoch milliseconds.
type KeyInfo struct {
	ID            string
	Value         string
	CreatedAtTime int64
	ExpiryTime    int64
}

// Manager mints and rotates one class of key for one tenant.
type Manager struct {
	identifier     models.TenantIdentifier
	class          Class
	updateInterval time.Duration

	mu         sync.Mutex
	keys       []KeyInfo
	privateKey *rsa.PrivateKey
	method     jwt.SigningMethod
}

func newManager(id models.TenantIdentifier, class Class, interval time.Duration, algorithm string) (*Manager, error) {
	m := &Manager{
		identifier:     id,
		class:          class,
		updateInterval: interval,
	}
	if class == ClassJWT {
		method := jwt.GetSigningMethod(algorithm)
		if _, ok := method.(*jwt.SigningMethodRSA); !ok {
			return nil, &UnsupportedJWTSigningAlgorithmError{Algorithm: algorithm}
		}
		m.method = method
	}
	if err := m.generateKey(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) generateKey() error {
	now := time.Now().UnixMilli()
	info := KeyInfo{
		ID:            uuid.New().String(),
		CreatedAtTime: now,
		ExpiryTime:    now + m.updateInterval.Milliseconds(),
	}
	if m.class == ClassJWT {
		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return fmt.Errorf("generating RSA key for %s: %w", m.identifier, err)
		}
		m.privateKey = priv
		info.Value = hex.EncodeToString(priv.PublicKey.N.Bytes())
	} else {
		raw := make([]byte, 64)
		if _, err := randRead(raw); err != nil {
			return fmt.Errorf("generating key material for %s: %w", m.identifier, err)
		}
		info.Value = hex.EncodeToString(raw)
	}
	m.keys = append(m.keys, info)
	return nil
}

// GetAllKeys returns every non-expired key generation, newest last. Expired
// generations are dropped and a fresh key is minted when none remain valid.
// If minting fails the newest expired generation is kept so callers never see
// an empty key set.
func (m *Manager) GetAllKeys() []KeyInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UnixMilli()
	newest := m.keys[len(m.keys)-1]
	valid := m.keys[:0]
	for _, k := range m.keys {
		if k.ExpiryTime > now {
			valid = append(valid, k)
		}
	}
	m.keys = valid
	if len(m.keys) == 0 {
		if err := m.generateKey(); err != nil {
			m.keys = append(m.keys, newest)
		}
	}
	out := make([]KeyInfo, len(m.keys))
	copy(out, m.keys)
	return out
}

// CurrentKey returns the newest valid key generation.
func (m *Manager) CurrentKey() KeyInfo {
	all := m.GetAllKeys()
	return all[len(all)-1]
}

// RotateIfExpired mints a new generation when the newest key has passed its
// update interval. Called by the key-rotation cron sweep.
func (m *Manager) RotateIfExpired() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UnixMilli()
	if len(m.keys) > 0 && m.keys[len(m.keys)-1].ExpiryTime > now {
		return false, nil
	}
	if err := m.generateKey(); err != nil {
		return false, err
	}
	return true, nil
}

// SignJWT signs claims with the tenant's RSA key. Only valid on the JWT class
// manager.
func (m *Manager) SignJWT(claims jwt.MapClaims) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.class != ClassJWT || m.privateKey == nil {
		return "", fmt.Errorf("manager for %s does not hold a JWT signing key", m.identifier)
	}
	token := jwt.NewWithClaims(m.method, claims)
	token.Header["kid"] = m.keys[len(m.keys)-1].ID
	return token.SignedString(m.privateKey)
}

// UpdateInterval reports the configured rotation interval.
func (m *Manager) UpdateInterval() time.Duration {
	return m.updateInterval
}

// Registry holds the managers of one key class, keyed by tenant identifier.
type Registry struct {
	class       Class
	intervalKey string
	log         *logrus.Logger

	mu       sync.Mutex
	managers map[models.TenantIdentifier]*Manager
}

// NewRegistry creates a registry for one key class.
func NewRegistry(class Class, log *logrus.Logger) *Registry {
	intervalKey := models.CoreConfigAccessTokenKeyInterval
	if class == ClassRefreshToken {
		intervalKey = models.CoreConfigRefreshTokenKeyInterval
	}
	return &Registry{
		class:       class,
		intervalKey: intervalKey,
		log:         log,
		managers:    make(map[models.TenantIdentifier]*Manager),
	}
}

// LoadForAllTenants ensures one manager exists per given tenant, constructed
// with that tenant's update interval, and destroys managers whose tenant
// disappeared. Managers of unchanged tenants are reused so key material stays
// stable across reconciles.
func (r *Registry) LoadForAllTenants(tenants []models.TenantConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wanted := make(map[models.TenantIdentifier]bool, len(tenants))
	for _, t := range tenants {
		wanted[t.Identifier] = true
		if _, ok := r.managers[t.Identifier]; ok {
			continue
		}
		interval := t.CoreConfig.SigningKeyUpdateInterval(r.intervalKey)
		algorithm := t.CoreConfig.StringValue(models.CoreConfigJWTSigningAlgorithm, "RS256")
		manager, err := newManager(t.Identifier, r.class, interval, algorithm)
		if err != nil {
			return err
		}
		r.managers[t.Identifier] = manager
		r.log.WithFields(logrus.Fields{
			"tenant":   t.Identifier.String(),
			"class":    string(r.class),
			"interval": interval.String(),
		}).Debug("created signing key manager")
	}

	defaultID := models.DefaultTenantIdentifier()
	for id := range r.managers {
		if !wanted[id] && id != defaultID {
			delete(r.managers, id)
			r.log.WithFields(logrus.Fields{
				"tenant": id.String(),
				"class":  string(r.class),
			}).Info("destroyed signing key manager")
		}
	}
	return nil
}

// GetInstance resolves the manager for a tenant. Unknown identifiers fall back
// to the default tenant's manager so callers always get usable key material.
func (r *Registry) GetInstance(id models.TenantIdentifier) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.managers[id]; ok {
		return m
	}
	return r.managers[models.DefaultTenantIdentifier()]
}

// Identifiers lists the tenants currently holding a manager.
func (r *Registry) Identifiers() []models.TenantIdentifier {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.TenantIdentifier, 0, len(r.managers))
	for id := range r.managers {
		out = append(out, id)
	}
	return out
}

// SigningKeys bundles the three per-tenant registries.
type SigningKeys struct {
	AccessToken  *Registry
	RefreshToken *Registry
	JWT          *Registry
}

// NewSigningKeys creates the three registries.
func NewSigningKeys(log *logrus.Logger) *SigningKeys {
	return &SigningKeys{
		AccessToken:  NewRegistry(ClassAccessToken, log),
		RefreshToken: NewRegistry(ClassRefreshToken, log),
		JWT:          NewRegistry(ClassJWT, log),
	}
}

// LoadForAllTenants loads all three registries for the given tenant set.
func (s *SigningKeys) LoadForAllTenants(tenants []models.TenantConfig) error {
	if err := s.AccessToken.LoadForAllTenants(tenants); err != nil {
		return err
	}
	if err := s.RefreshToken.LoadForAllTenants(tenants); err != nil {
		return err
	}
	return s.JWT.LoadForAllTenants(tenants)
}
