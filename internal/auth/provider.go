package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"exam-prep-service/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLen = 6

type account struct {
	id          string
	email       string
	name        string
	hash        []byte
	permissions []string
	createdAt   time.Time
}

// Provider is an in-process identity provider: bcrypt password hashes, JWT sessions,
// revocation by token id. Permissions are attached to accounts, never derived from email.
type Provider struct {
	issuer *Issuer
	cost   int

	mu          sync.RWMutex
	byEmail     map[string]*account
	revoked     map[string]time.Time
	usedResets  map[string]struct{}
	subscribers map[chan domain.AuthChange]struct{}
}

func NewProvider(issuer *Issuer) *Provider {
	return &Provider{
		issuer:      issuer,
		cost:        bcrypt.DefaultCost,
		byEmail:     make(map[string]*account),
		revoked:     make(map[string]time.Time),
		usedResets:  make(map[string]struct{}),
		subscribers: make(map[chan domain.AuthChange]struct{}),
	}
}

// WithCost lowers the bcrypt cost, for tests.
func (p *Provider) WithCost(cost int) *Provider {
	p.cost = cost
	return p
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// accountID is stable per email so drafts and stored results stay linked across restarts.
func accountID(email string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+email)).String()
}

func (p *Provider) SignUp(ctx context.Context, email, password, name string) (domain.Session, error) {
	email = normalizeEmail(email)
	v := &domain.ValidationError{}
	if !strings.Contains(email, "@") {
		v.Add("email", "invalid email")
	}
	if len(password) < minPasswordLen {
		v.Add("password", fmt.Sprintf("must be at least %d characters", minPasswordLen))
	}
	if strings.TrimSpace(name) == "" {
		v.Add("name", "required")
	}
	if err := v.OrNil(); err != nil {
		return domain.Session{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return domain.Session{}, fmt.Errorf("hash password: %w", err)
	}

	p.mu.Lock()
	if _, exists := p.byEmail[email]; exists {
		p.mu.Unlock()
		return domain.Session{}, domain.ErrEmailTaken
	}
	acc := &account{
		id:        accountID(email),
		email:     email,
		name:      strings.TrimSpace(name),
		hash:      hash,
		createdAt: time.Now().UTC(),
	}
	p.byEmail[email] = acc
	p.mu.Unlock()

	return p.startSession(acc)
}

func (p *Provider) SignIn(ctx context.Context, email, password string) (domain.Session, error) {
	email = normalizeEmail(email)
	p.mu.RLock()
	acc, ok := p.byEmail[email]
	p.mu.RUnlock()
	if !ok {
		return domain.Session{}, domain.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acc.hash, []byte(password)); err != nil {
		return domain.Session{}, domain.ErrInvalidCredentials
	}
	return p.startSession(acc)
}

func (p *Provider) startSession(acc *account) (domain.Session, error) {
	p.mu.RLock()
	perms := append([]string(nil), acc.permissions...)
	p.mu.RUnlock()

	s, err := p.issuer.IssueSession(acc.id, acc.email, acc.name, perms)
	if err != nil {
		return domain.Session{}, err
	}
	p.broadcast(domain.AuthChange{Event: domain.AuthSignedIn, Session: &s})
	return s, nil
}

func (p *Provider) SignOut(ctx context.Context, token string) error {
	claims, err := p.issuer.Parse(token, purposeSession)
	if err != nil {
		return err
	}
	p.mu.Lock()
	if claims.ExpiresAt != nil {
		p.revoked[claims.ID] = claims.ExpiresAt.Time
	} else {
		p.revoked[claims.ID] = time.Now().Add(p.issuer.ttl)
	}
	p.mu.Unlock()

	s := SessionFromClaims(token, claims)
	p.broadcast(domain.AuthChange{Event: domain.AuthSignedOut, Session: &s})
	return nil
}

// RequestPasswordReset returns a reset token for a registered email. Delivering it to
// the user is the caller's concern.
func (p *Provider) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	email = normalizeEmail(email)
	p.mu.RLock()
	acc, ok := p.byEmail[email]
	p.mu.RUnlock()
	if !ok {
		return "", domain.ErrUserNotFound
	}
	return p.issuer.IssueReset(acc.id, acc.email)
}

func (p *Provider) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	if len(newPassword) < minPasswordLen {
		return &domain.ValidationError{Fields: map[string]string{"password": fmt.Sprintf("must be at least %d characters", minPasswordLen)}}
	}
	claims, err := p.issuer.Parse(resetToken, purposeReset)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), p.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	p.mu.Lock()
	if _, used := p.usedResets[claims.ID]; used {
		p.mu.Unlock()
		return domain.ErrInvalidToken
	}
	acc, ok := p.byEmail[normalizeEmail(claims.Email)]
	if !ok || acc.id != claims.Subject {
		p.mu.Unlock()
		return domain.ErrUserNotFound
	}
	p.usedResets[claims.ID] = struct{}{}
	acc.hash = hash
	p.mu.Unlock()

	p.broadcast(domain.AuthChange{Event: domain.AuthPasswordReset, Session: &domain.Session{UserID: acc.id, Email: acc.email}})
	return nil
}

func (p *Provider) Verify(ctx context.Context, token string) (domain.Session, error) {
	claims, err := p.issuer.Parse(token, purposeSession)
	if err != nil {
		return domain.Session{}, err
	}
	p.mu.RLock()
	_, revoked := p.revoked[claims.ID]
	p.mu.RUnlock()
	if revoked {
		return domain.Session{}, domain.ErrInvalidToken
	}
	return SessionFromClaims(token, claims), nil
}

// Grant attaches a permission to an account; it applies to sessions started afterwards.
func (p *Provider) Grant(email, permission string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	acc, ok := p.byEmail[normalizeEmail(email)]
	if !ok {
		return domain.ErrUserNotFound
	}
	for _, existing := range acc.permissions {
		if existing == permission {
			return nil
		}
	}
	acc.permissions = append(acc.permissions, permission)
	return nil
}

// EnsureAccount creates the account if missing and grants permissions. Used to seed
// administrators from configuration.
func (p *Provider) EnsureAccount(ctx context.Context, email, password, name string, permissions ...string) error {
	if _, err := p.SignUp(ctx, email, password, name); err != nil && !errors.Is(err, domain.ErrEmailTaken) {
		return err
	}
	for _, perm := range permissions {
		if err := p.Grant(email, perm); err != nil {
			return err
		}
	}
	log.Info().Str("email", normalizeEmail(email)).Strs("permissions", permissions).Msg("account ensured")
	return nil
}

// Accounts lists registered users for the roster.
func (p *Provider) Accounts() []domain.UserAccount {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.UserAccount, 0, len(p.byEmail))
	for _, acc := range p.byEmail {
		out = append(out, domain.UserAccount{ID: acc.id, Email: acc.email, Name: acc.name, CreatedAt: acc.createdAt})
	}
	return out
}

// Subscribe returns a channel of auth changes. The caller must invoke cancel.
func (p *Provider) Subscribe() (<-chan domain.AuthChange, func()) {
	ch := make(chan domain.AuthChange, 8)
	p.mu.Lock()
	p.subscribers[ch] = struct{}{}
	p.mu.Unlock()

	cancel := func() {
		p.mu.Lock()
		if _, ok := p.subscribers[ch]; ok {
			delete(p.subscribers, ch)
			close(ch)
		}
		p.mu.Unlock()
	}
	return ch, cancel
}

func (p *Provider) broadcast(change domain.AuthChange) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for ch := range p.subscribers {
		select {
		case ch <- change:
		default:
			log.Warn().Str("event", string(change.Event)).Msg("auth subscriber full, dropping change")
		}
	}
}
