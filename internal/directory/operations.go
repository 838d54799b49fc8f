package directory

import (
	"context"

	"github.com/slothflix/lldap-bridge/internal/models"
)

// GraphQL documents mirror the LLDAP admin schema; field names here are a
// compatibility contract, not something to rename.
var (
	opGetUserByEmail = operation{
		Name: "GetUserByEmail",
		Doc: `query GetUserByEmail($email: String!) {
    users(filters: { eq: { field: "email", value: $email } }) {
        id
    }
}`,
	}

	opGetUserByDiscordID = operation{
		Name: "GetUserByDiscordId",
		Doc: `query GetUserByDiscordId($discordid: String!) {
    users(filters: { eq: { field: "discordid", value: $discordid } }) {
        id
    }
}`,
	}

	opGetGroupDetails = operation{
		Name: "GetGroupDetails",
		Doc: `query GetGroupDetails($id: Int!) {
    group(groupId: $id) {
        users {
            id
            displayName
            attributes {
                name
                value
            }
        }
    }
}`,
	}

	opCreateUser = operation{
		Name: "CreateUser",
		Doc: `mutation CreateUser($input: CreateUserInput!) {
    createUser(user: $input) {
        id
    }
}`,
	}

	opAddUserToGroup = operation{
		Name: "AddUserToGroup",
		Doc: `mutation AddUserToGroup($userId: String!, $groupId: Int!) {
    addUserToGroup(userId: $userId, groupId: $groupId) {
        ok
    }
}`,
	}

	opRemoveUserFromGroup = operation{
		Name: "RemoveUserFromGroup",
		Doc: `mutation RemoveUserFromGroup($userId: String!, $groupId: Int!) {
    removeUserFromGroup(userId: $userId, groupId: $groupId) {
        ok
    }
}`,
	}
)

type userIDList struct {
	Users []struct {
		ID string `json:"id"`
	} `json:"users"`
}

// EmailExists reports whether the (already normalized) email is associated
// with a directory account.
func (c *Client) EmailExists(ctx context.Context, email string) (bool, error) {
	var out userIDList
	if err := c.execute(ctx, opGetUserByEmail, map[string]any{"email": email}, &out); err != nil {
		return false, err
	}
	return len(out.Users) > 0, nil
}

// DiscordIDExists reports whether the Discord id is already linked to a
// directory account.
func (c *Client) DiscordIDExists(ctx context.Context, discordID string) (bool, error) {
	var out userIDList
	if err := c.execute(ctx, opGetUserByDiscordID, map[string]any{"discordid": discordID}, &out); err != nil {
		return false, err
	}
	return len(out.Users) > 0, nil
}

// UserIDByDiscordID resolves the directory user linked to the Discord id.
// Returns "" when no account is linked.
func (c *Client) UserIDByDiscordID(ctx context.Context, discordID string) (string, error) {
	var out userIDList
	if err := c.execute(ctx, opGetUserByDiscordID, map[string]any{"discordid": discordID}, &out); err != nil {
		return "", err
	}
	if len(out.Users) == 0 {
		return "", nil
	}
	return out.Users[0].ID, nil
}

// GroupMembers fetches the current members of the group. A missing group
// yields an empty slice.
func (c *Client) GroupMembers(ctx context.Context, groupID int) ([]models.DirectoryUser, error) {
	var out struct {
		Group *struct {
			Users []models.DirectoryUser `json:"users"`
		} `json:"group"`
	}
	if err := c.execute(ctx, opGetGroupDetails, map[string]any{"id": groupID}, &out); err != nil {
		return nil, err
	}
	if out.Group == nil {
		return nil, nil
	}
	return out.Group.Users, nil
}

// CreateUserInput is the createUser mutation payload. ID doubles as the
// username.
type CreateUserInput struct {
	ID          string             `json:"id"`
	DisplayName string             `json:"displayName"`
	Email       string             `json:"email"`
	Attributes  []models.Attribute `json:"attributes"`
}

// CreateUser creates a directory user record and returns its id.
func (c *Client) CreateUser(ctx context.Context, input CreateUserInput) (string, error) {
	var out struct {
		CreateUser struct {
			ID string `json:"id"`
		} `json:"createUser"`
	}
	if err := c.execute(ctx, opCreateUser, map[string]any{"input": input}, &out); err != nil {
		return "", err
	}
	return out.CreateUser.ID, nil
}

// AddUserToGroup adds the user to the group. Adding an existing member is a
// no-op on the directory side.
func (c *Client) AddUserToGroup(ctx context.Context, userID string, groupID int) error {
	return c.execute(ctx, opAddUserToGroup, map[string]any{"userId": userID, "groupId": groupID}, nil)
}

// RemoveUserFromGroup removes the user from the group.
func (c *Client) RemoveUserFromGroup(ctx context.Context, userID string, groupID int) error {
	return c.execute(ctx, opRemoveUserFromGroup, map[string]any{"userId": userID, "groupId": groupID}, nil)
}
