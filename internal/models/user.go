package models

// AttributeDiscordID is the custom LLDAP attribute linking a directory user
// to exactly one Discord account. The directory enforces its uniqueness.
const AttributeDiscordID = "discordid"

// Attribute is a named, ordered list of values as LLDAP returns them.
type Attribute struct {
	Name  string   `json:"name"`
	Value []string `json:"value"`
}

// DirectoryUser is a user record in the LLDAP directory. ID is the username
// and primary key.
type DirectoryUser struct {
	ID          string      `json:"id"`
	DisplayName string      `json:"displayName"`
	Email       string      `json:"email"`
	Attributes  []Attribute `json:"attributes"`
}

// AttributeValue returns the first value of the named attribute, or "" when
// the attribute is absent or has no values.
func (u *DirectoryUser) AttributeValue(name string) string {
	for _, a := range u.Attributes {
		if a.Name == name {
			if len(a.Value) > 0 {
				return a.Value[0]
			}
			return ""
		}
	}
	return ""
}

// DiscordID returns the linked Discord account id, or "" when the user has
// no discordid attribute (such users cannot be reconciled).
func (u *DirectoryUser) DiscordID() string {
	return u.AttributeValue(AttributeDiscordID)
}

// Group is a directory-side membership collection identified by integer id.
type Group struct {
	ID    int             `json:"id"`
	Users []DirectoryUser `json:"users"`
}
