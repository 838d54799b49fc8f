package provision

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/slothflix/lldap-bridge/internal/directory"
	"github.com/slothflix/lldap-bridge/internal/models"
	"github.com/slothflix/lldap-bridge/pkg/logger"
	"github.com/slothflix/lldap-bridge/pkg/metrics"
)

const tempPasswordLength = 12

const passwordAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Directory is the subset of the directory API the provisioner needs.
type Directory interface {
	EmailExists(ctx context.Context, email string) (bool, error)
	DiscordIDExists(ctx context.Context, discordID string) (bool, error)
	CreateUser(ctx context.Context, input directory.CreateUserInput) (string, error)
	AddUserToGroup(ctx context.Context, userID string, groupID int) error
}

// Service creates directory accounts for Discord users: uniqueness checks,
// user record, temporary password over the LDAP channel, group memberships.
type Service struct {
	dir                Directory
	passwords          directory.PasswordSetter
	baseDN             string
	subscribersGroupID int
	lifetimeGroupID    int // 0 when no lifetime group is configured
	usernameMaxLen     int
}

func NewService(dir Directory, passwords directory.PasswordSetter, baseDN string, subscribersGroupID, lifetimeGroupID, usernameMaxLen int) *Service {
	if usernameMaxLen <= 0 {
		usernameMaxLen = 20
	}
	return &Service{
		dir:                dir,
		passwords:          passwords,
		baseDN:             baseDN,
		subscribersGroupID: subscribersGroupID,
		lifetimeGroupID:    lifetimeGroupID,
		usernameMaxLen:     usernameMaxLen,
	}
}

// CreateAccountRequest describes one provisioning request. Username doubles
// as the directory user id.
type CreateAccountRequest struct {
	Username  string
	Email     string
	DiscordID string

	Subscriber bool
	Lifetime   bool
}

// CreateAccount provisions a directory account and returns the generated
// temporary password. The password is returned exactly once and never stored.
//
// Steps past validation are fatal to the request and are not retried or
// rolled back: a password-set failure leaves the created record in place and
// is surfaced as *PasswordSetError.
func (s *Service) CreateAccount(ctx context.Context, req CreateAccountRequest) (string, error) {
	if err := s.validateUsername(req.Username); err != nil {
		metrics.AccountsProvisioned.WithLabelValues("invalid").Inc()
		return "", err
	}
	email := strings.ToLower(req.Email)

	if exists, err := s.dir.EmailExists(ctx, email); err != nil {
		metrics.AccountsProvisioned.WithLabelValues("error").Inc()
		return "", err
	} else if exists {
		metrics.AccountsProvisioned.WithLabelValues("duplicate").Inc()
		return "", &DuplicateError{Field: "email"}
	}
	if exists, err := s.dir.DiscordIDExists(ctx, req.DiscordID); err != nil {
		metrics.AccountsProvisioned.WithLabelValues("error").Inc()
		return "", err
	} else if exists {
		metrics.AccountsProvisioned.WithLabelValues("duplicate").Inc()
		return "", &DuplicateError{Field: "discordid"}
	}

	tempPassword, err := generateTempPassword(tempPasswordLength)
	if err != nil {
		metrics.AccountsProvisioned.WithLabelValues("error").Inc()
		return "", err
	}

	userID, err := s.dir.CreateUser(ctx, directory.CreateUserInput{
		ID:          req.Username,
		DisplayName: req.Username,
		Email:       email,
		Attributes: []models.Attribute{
			{Name: models.AttributeDiscordID, Value: []string{req.DiscordID}},
		},
	})
	if err != nil {
		// The precondition checks race against concurrent registrations, so a
		// uniqueness violation can still surface here.
		if directory.IsUniqueViolation(err) {
			metrics.AccountsProvisioned.WithLabelValues("duplicate").Inc()
			return "", &DuplicateError{Field: "discordid"}
		}
		metrics.AccountsProvisioned.WithLabelValues("error").Inc()
		return "", err
	}

	userDN := fmt.Sprintf("uid=%s,ou=people,%s", userID, s.baseDN)
	if err := s.passwords.SetPassword(ctx, userDN, tempPassword); err != nil {
		metrics.AccountsProvisioned.WithLabelValues("password_error").Inc()
		logger.Errorf("password set failed for %s, account left without a secret: %v", userID, err)
		return "", &PasswordSetError{UserID: userID, Err: err}
	}

	if req.Subscriber {
		if err := s.dir.AddUserToGroup(ctx, userID, s.subscribersGroupID); err != nil {
			metrics.AccountsProvisioned.WithLabelValues("error").Inc()
			return "", err
		}
	}
	if req.Lifetime && s.lifetimeGroupID != 0 {
		if err := s.dir.AddUserToGroup(ctx, userID, s.lifetimeGroupID); err != nil {
			metrics.AccountsProvisioned.WithLabelValues("error").Inc()
			return "", err
		}
	}

	metrics.AccountsProvisioned.WithLabelValues("success").Inc()
	logger.Infof("provisioned account %s (discord %s)", userID, req.DiscordID)
	return tempPassword, nil
}

func (s *Service) validateUsername(username string) error {
	if username == "" {
		return &ValidationError{Reason: "username must not be empty"}
	}
	if len(username) > s.usernameMaxLen {
		return &ValidationError{Reason: fmt.Sprintf("username longer than %d characters", s.usernameMaxLen)}
	}
	for _, r := range username {
		if !isAlnum(r) {
			return &ValidationError{Reason: "username must be alphanumeric"}
		}
	}
	return nil
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// generateTempPassword draws uniformly from the alphanumeric alphabet. The
// plaintext exists only in the return value.
func generateTempPassword(length int) (string, error) {
	b := make([]byte, length)
	alphabetLen := big.NewInt(int64(len(passwordAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		b[i] = passwordAlphabet[n.Int64()]
	}
	return string(b), nil
}
