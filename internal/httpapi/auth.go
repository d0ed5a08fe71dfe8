package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"cajero/backend/internal/domain"
	"cajero/backend/internal/store"
	"cajero/backend/internal/xid"
)

const minPasswordLength = 8

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errInactiveAccount    = errors.New("account is inactive")
	errInvalidToken       = errors.New("invalid or expired token")
)

type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	accounts store.AccountStore
	now      func() time.Time
}

type cajeroClaims struct {
	jwtlib.RegisteredClaims
	TenantID string      `json:"tenant_id"`
	Role     domain.Role `json:"role"`
	Email    string      `json:"email"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, accounts store.AccountStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		accounts: accounts,
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// Signup creates a tenant together with its first ADMIN user and signs a
// token for that user.
func (a *AuthManager) Signup(ctx context.Context, req domain.SignupRequest) (domain.AuthResponse, error) {
	tenantName := strings.TrimSpace(req.TenantName)
	if tenantName == "" {
		return domain.AuthResponse{}, fmt.Errorf("%w: tenantName is required", store.ErrInvalidInput)
	}
	timezone := strings.TrimSpace(req.Timezone)
	if timezone != "" {
		if _, err := time.LoadLocation(timezone); err != nil {
			return domain.AuthResponse{}, fmt.Errorf("%w: unknown timezone %q", store.ErrInvalidInput, timezone)
		}
	}

	now := a.now()
	tenant := domain.Tenant{
		ID:        xid.New(),
		Name:      tenantName,
		Timezone:  timezone,
		CreatedAt: now,
		UpdatedAt: now,
	}
	admin, err := newUser(tenant.ID, req.Name, req.Email, req.Password, domain.RoleAdmin, now)
	if err != nil {
		return domain.AuthResponse{}, err
	}
	if err := a.accounts.CreateTenantWithAdmin(ctx, tenant, admin); err != nil {
		return domain.AuthResponse{}, err
	}

	resp, err := a.issue(admin)
	if err != nil {
		return domain.AuthResponse{}, err
	}
	resp.Tenant = &tenant
	return resp, nil
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return domain.AuthResponse{}, errInvalidCredentials
	}

	user, err := a.accounts.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.AuthResponse{}, errInvalidCredentials
		}
		return domain.AuthResponse{}, err
	}
	if !verifyPassword(user.PasswordHash, req.Password) {
		return domain.AuthResponse{}, errInvalidCredentials
	}
	if !user.IsActive {
		return domain.AuthResponse{}, errInactiveAccount
	}
	return a.issue(*user)
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &cajeroClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" || claims.TenantID == "" || !claims.Role.Valid() {
		return domain.Actor{}, errInvalidToken
	}
	return domain.Actor{UserID: sub, TenantID: claims.TenantID, Email: claims.Email, Role: claims.Role}, nil
}

// Me reloads the caller so a deactivated user stops resolving.
func (a *AuthManager) Me(ctx context.Context, actor domain.Actor) (domain.User, error) {
	user, err := a.accounts.GetUser(ctx, actor.TenantID, actor.UserID)
	if err != nil {
		return domain.User{}, err
	}
	return *user, nil
}

func (a *AuthManager) CreateUser(ctx context.Context, tenantID string, req domain.UserCreateRequest) (domain.User, error) {
	role := domain.Role(strings.ToUpper(strings.TrimSpace(string(req.Role))))
	if role == "" {
		role = domain.RoleCashier
	}
	if !role.Valid() {
		return domain.User{}, fmt.Errorf("%w: role %q is not valid", store.ErrInvalidInput, req.Role)
	}
	user, err := newUser(tenantID, req.Name, req.Email, req.Password, role, a.now())
	if err != nil {
		return domain.User{}, err
	}
	created, err := a.accounts.CreateUser(ctx, user)
	if err != nil {
		return domain.User{}, err
	}
	return *created, nil
}

func (a *AuthManager) ListUsers(ctx context.Context, tenantID string) ([]domain.User, error) {
	users, err := a.accounts.ListUsers(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].Email < users[j].Email
	})
	return users, nil
}

func (a *AuthManager) issue(user domain.User) (domain.AuthResponse, error) {
	expiresAt := a.now().Add(a.tokenTTL)
	token, err := a.sign(user, expiresAt)
	if err != nil {
		return domain.AuthResponse{}, err
	}
	return domain.AuthResponse{
		AccessToken: token,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
		User:        user,
	}, nil
}

func (a *AuthManager) sign(user domain.User, expiresAt time.Time) (string, error) {
	claims := cajeroClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwtlib.NewNumericDate(a.now()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "cajero",
		},
		TenantID: user.TenantID,
		Role:     user.Role,
		Email:    user.Email,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func newUser(tenantID string, name string, email string, password string, role domain.Role, now time.Time) (domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return domain.User{}, fmt.Errorf("%w: a valid email is required", store.ErrInvalidInput)
	}
	if len(password) < minPasswordLength {
		return domain.User{}, fmt.Errorf("%w: password must be at least %d characters", store.ErrInvalidInput, minPasswordLength)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = email
	}

	hash, err := hashPassword(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	return domain.User{
		ID:           xid.New(),
		TenantID:     tenantID,
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
