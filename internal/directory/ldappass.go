package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// PasswordSetter writes a user's password over the directory's native LDAP
// protocol. This is a separate channel from the GraphQL API: LLDAP only
// accepts password writes on the LDAP port.
type PasswordSetter interface {
	SetPassword(ctx context.Context, userDN, password string) error
}

// LDAPPasswordSetter binds with the configured service DN for every write.
// Connections are short-lived; password sets are rare enough that pooling is
// not worth the bookkeeping.
type LDAPPasswordSetter struct {
	serverURL    string
	bindDN       string
	bindPassword string
}

func NewLDAPPasswordSetter(serverURL, bindDN, bindPassword string) *LDAPPasswordSetter {
	return &LDAPPasswordSetter{serverURL: serverURL, bindDN: bindDN, bindPassword: bindPassword}
}

func (s *LDAPPasswordSetter) SetPassword(ctx context.Context, userDN, password string) error {
	conn, err := ldap.DialURL(s.serverURL)
	if err != nil {
		return fmt.Errorf("ldap dial: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetTimeout(time.Until(deadline))
	}

	if err := conn.Bind(s.bindDN, s.bindPassword); err != nil {
		return fmt.Errorf("ldap bind: %w", err)
	}

	req := ldap.NewPasswordModifyRequest(userDN, "", password)
	if _, err := conn.PasswordModify(req); err != nil {
		return fmt.Errorf("ldap password modify: %w", err)
	}
	return nil
}
