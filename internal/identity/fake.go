package identity

import (
	"context"
	"fmt"
	"sync"
)

// FakeClient answers GetUser from an in-memory token table.
type FakeClient struct {
	mu    sync.Mutex
	users map[string]UserInfo
	// Outage, when set, is returned for every lookup as if the backend
	// were down.
	Outage error
}

func NewFakeClient() *FakeClient {
	return &FakeClient{users: make(map[string]UserInfo)}
}

func (c *FakeClient) GetUser(_ context.Context, accessToken string) (*UserInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Outage != nil {
		return nil, fmt.Errorf("%w: %w", ErrUserInfoFailed, c.Outage)
	}
	info, ok := c.users[accessToken]
	if !ok {
		return nil, fmt.Errorf("%w: unknown token", ErrUserInfoFailed)
	}
	return &info, nil
}

// AddUser makes accessToken resolve to info.
func (c *FakeClient) AddUser(accessToken string, info *UserInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[accessToken] = *info
}
