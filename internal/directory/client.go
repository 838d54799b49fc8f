package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/slothflix/lldap-bridge/pkg/logger"
	"github.com/slothflix/lldap-bridge/pkg/metrics"
)

// TokenSource provides a valid bearer token and a way to force a refresh.
// Satisfied by *auth.Manager.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) error
}

// operation is a named GraphQL document. The operation names and field names
// are a compatibility contract with the LLDAP schema.
type operation struct {
	Name string
	Doc  string
}

// Client executes typed GraphQL operations against the LLDAP admin API.
// On a 401 it performs exactly one recovery cycle (refresh credentials,
// rebind the authorization header, retry); a second 401 propagates as
// *APIError so a systemically broken credential cannot loop forever.
type Client struct {
	endpoint string
	tokens   TokenSource
	httpc    *http.Client

	mu    sync.RWMutex
	authz string
}

// NewClient builds a client for the GraphQL endpoint under the given login
// URL. Call Initialize before the first operation.
func NewClient(loginURL string, tokens TokenSource) *Client {
	return &Client{
		endpoint: strings.TrimRight(loginURL, "/") + "/api/graphql",
		tokens:   tokens,
		httpc:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Initialize rebinds the client's authorization header to the current valid
// token. Must be re-invoked after any credential refresh.
func (c *Client) Initialize(ctx context.Context) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.authz = "Bearer " + token
	c.mu.Unlock()
	return nil
}

type graphQLRequest struct {
	Query         string `json:"query"`
	OperationName string `json:"operationName,omitempty"`
	Variables     any    `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// execute runs one operation, recovering from a single 401 by refreshing the
// credential and retrying once.
func (c *Client) execute(ctx context.Context, op operation, variables any, out any) error {
	status, err := c.post(ctx, op, variables, out)
	if err == nil {
		metrics.DirectoryRequests.WithLabelValues(op.Name, "success").Inc()
		return nil
	}
	if status != http.StatusUnauthorized {
		metrics.DirectoryRequests.WithLabelValues(op.Name, "error").Inc()
		return err
	}

	logger.Debugf("directory returned 401 for %s, refreshing token and retrying", op.Name)
	metrics.DirectoryRequests.WithLabelValues(op.Name, "unauthorized").Inc()
	if rerr := c.tokens.Refresh(ctx); rerr != nil {
		return fmt.Errorf("refresh after 401: %w", rerr)
	}
	if ierr := c.Initialize(ctx); ierr != nil {
		return fmt.Errorf("rebind after 401: %w", ierr)
	}

	if _, err = c.post(ctx, op, variables, out); err != nil {
		metrics.DirectoryRequests.WithLabelValues(op.Name, "error").Inc()
		return err
	}
	metrics.DirectoryRequests.WithLabelValues(op.Name, "success").Inc()
	return nil
}

// post issues a single GraphQL POST and decodes the data payload into out.
// The returned status is the HTTP status when one was received (0 on
// transport errors), so execute can tell a 401 apart from everything else.
func (c *Client) post(ctx context.Context, op operation, variables any, out any) (int, error) {
	payload, err := json.Marshal(graphQLRequest{
		Query:         op.Doc,
		OperationName: op.Name,
		Variables:     variables,
	})
	if err != nil {
		return 0, fmt.Errorf("marshal %s: %w", op.Name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.mu.RLock()
	req.Header.Set("Authorization", c.authz)
	c.mu.RUnlock()

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, &APIError{Message: err.Error()}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, &APIError{Status: resp.StatusCode, Message: string(body)}
	}

	var gr graphQLResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return resp.StatusCode, &APIError{Status: resp.StatusCode, Message: fmt.Sprintf("malformed response: %v", err)}
	}
	if len(gr.Errors) > 0 {
		msgs := make([]string, 0, len(gr.Errors))
		for _, e := range gr.Errors {
			msgs = append(msgs, e.Message)
		}
		return resp.StatusCode, &APIError{Status: resp.StatusCode, Message: strings.Join(msgs, "; ")}
	}
	if out != nil {
		if err := json.Unmarshal(gr.Data, out); err != nil {
			return resp.StatusCode, &APIError{Status: resp.StatusCode, Message: fmt.Sprintf("decode %s data: %v", op.Name, err)}
		}
	}
	return resp.StatusCode, nil
}
