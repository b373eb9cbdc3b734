package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/cloudwego/hertz/pkg/app/client"
	"github.com/cloudwego/hertz/pkg/protocol"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/golang-jwt/jwt/v5"

	"github.com/stayfinder/chatsync/pkg/errcode"
)

// Client is the REST client for the authoritative chat backend
type Client struct {
	baseURL    string
	httpClient *client.Client
	token      string
}

// ClientOption is a function to configure the client
type ClientOption func(*Client)

// WithHertzClient sets a custom Hertz client
func WithHertzClient(httpClient *client.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithToken sets the authentication token
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// NewClient creates a new backend client
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	httpClient, err := client.NewClient(
		client.WithDialTimeout(10*time.Second),
		client.WithClientReadTimeout(30*time.Second),
		client.WithWriteTimeout(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http client: %w", err)
	}

	c := &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// SetToken sets the authentication token
func (c *Client) SetToken(token string) {
	c.token = token
}

// checkToken rejects requests locally when the bearer token has already
// expired, before a round-trip is wasted. The token is not verified here
// (the backend owns the secret); only the registered expiry claim is read.
func (c *Client) checkToken() error {
	if c.token == "" {
		return errcode.ErrTokenMissing
	}
	parser := jwt.NewParser()
	claims := jwt.RegisteredClaims{}
	if _, _, err := parser.ParseUnverified(c.token, &claims); err != nil {
		return errcode.ErrTokenInvalid.Wrap(err)
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return errcode.ErrTokenExpired
	}
	return nil
}

// request makes an HTTP request and decodes the response
func (c *Client) request(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	if err := c.checkToken(); err != nil {
		return err
	}

	req := &protocol.Request{}
	resp := &protocol.Response{}

	req.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		req.SetBody(jsonBody)
	}

	if err := c.httpClient.Do(ctx, req, resp); err != nil {
		return errcode.ErrBackendRequest.Wrap(err)
	}

	return decodeResponse(resp.Body(), result)
}

// get makes a GET request with query parameters
func (c *Client) get(ctx context.Context, path string, params map[string]string, result interface{}) error {
	if err := c.checkToken(); err != nil {
		return err
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		query := url.Values{}
		for k, v := range params {
			query.Set(k, v)
		}
		reqURL += "?" + query.Encode()
	}

	req := &protocol.Request{}
	resp := &protocol.Response{}

	req.SetMethod(consts.MethodGet)
	req.SetRequestURI(reqURL)
	req.Header.Set("Authorization", "Bearer "+c.token)

	if err := c.httpClient.Do(ctx, req, resp); err != nil {
		return errcode.ErrBackendRequest.Wrap(err)
	}

	return decodeResponse(resp.Body(), result)
}

// post makes a POST request
func (c *Client) post(ctx context.Context, path string, body interface{}, result interface{}) error {
	return c.request(ctx, consts.MethodPost, path, body, result)
}

// decodeResponse unwraps the standard envelope and decodes the data payload
func decodeResponse(body []byte, result interface{}) error {
	var apiResp Response
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return errcode.ErrBackendDecode.Wrap(err)
	}

	if apiResp.Code != 0 {
		return errcode.New(apiResp.Code, apiResp.Msg)
	}

	if result != nil && apiResp.Data != nil {
		dataBytes, err := json.Marshal(apiResp.Data)
		if err != nil {
			return errcode.ErrBackendDecode.Wrap(err)
		}
		if err := json.Unmarshal(dataBytes, result); err != nil {
			return errcode.ErrBackendDecode.Wrap(err)
		}
	}

	return nil
}

// ConversationWith fetches or creates the conversation with the given peer
// together with its message history. The call is idempotent on the backend.
func (c *Client) ConversationWith(ctx context.Context, peerUserId string) (*ConversationBundle, error) {
	var bundle ConversationBundle
	err := c.post(ctx, "/conversation/with", &ConversationWithRequest{PeerUserId: peerUserId}, &bundle)
	if err != nil {
		return nil, err
	}
	if bundle.Conversation == nil {
		return nil, errcode.ErrConvNotFound
	}
	return &bundle, nil
}

// SendMessage sends text to a conversation; the backend assigns the
// authoritative message id and timestamp
func (c *Client) SendMessage(ctx context.Context, conversationId, text string) (*MessageInfo, error) {
	var msg MessageInfo
	err := c.post(ctx, "/msg/send", &SendMessageRequest{ConversationId: conversationId, Text: text}, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// MarkRead reports the conversation as read
func (c *Client) MarkRead(ctx context.Context, conversationId string) error {
	return c.post(ctx, "/conversation/read", &MarkReadRequest{ConversationId: conversationId}, nil)
}

// ListConversations fetches the conversation previews for the sidebar/dock
func (c *Client) ListConversations(ctx context.Context, limit int) ([]*ConversationPreview, error) {
	var resp ConversationListResponse
	err := c.get(ctx, "/conversation/list", map[string]string{"limit": strconv.Itoa(limit)}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// AvailablePeers fetches the authoritative available-now snapshot
func (c *Client) AvailablePeers(ctx context.Context) ([]string, error) {
	var resp AvailablePeersResponse
	err := c.get(ctx, "/presence/available", nil, &resp)
	if err != nil {
		return nil, err
	}
	return resp.UserIds, nil
}
