package remote

import (
	"context"
	"fmt"
)

// Mux routes Client calls to a per-account backend, letting one engine serve
// accounts that live on different remotes.
type Mux struct {
	backends map[string]Client
}

// NewMux creates an empty router.
func NewMux() *Mux {
	return &Mux{backends: make(map[string]Client)}
}

// Register binds an account id to its backend client.
func (m *Mux) Register(accountID string, client Client) {
	m.backends[accountID] = client
}

func (m *Mux) backend(accountID string) (Client, error) {
	client, ok := m.backends[accountID]
	if !ok {
		return nil, fmt.Errorf("no remote registered for account %s: %w", accountID, ErrNotFound)
	}

	return client, nil
}

// GetRoot implements Client.
func (m *Mux) GetRoot(ctx context.Context, accountID string) (Item, error) {
	client, err := m.backend(accountID)
	if err != nil {
		return Item{}, err
	}

	return client.GetRoot(ctx, accountID)
}

// GetChildren implements Client.
func (m *Mux) GetChildren(ctx context.Context, accountID, itemID string) ([]Item, error) {
	client, err := m.backend(accountID)
	if err != nil {
		return nil, err
	}

	return client.GetChildren(ctx, accountID, itemID)
}

// Upload implements Client.
func (m *Mux) Upload(ctx context.Context, accountID, localPath, logicalPath string, progress ProgressFunc) (Item, error) {
	client, err := m.backend(accountID)
	if err != nil {
		return Item{}, err
	}

	return client.Upload(ctx, accountID, localPath, logicalPath, progress)
}

// Download implements Client.
func (m *Mux) Download(ctx context.Context, accountID, itemID, localPath string, progress ProgressFunc) error {
	client, err := m.backend(accountID)
	if err != nil {
		return err
	}

	return client.Download(ctx, accountID, itemID, localPath, progress)
}

// Delete implements Client.
func (m *Mux) Delete(ctx context.Context, accountID, itemID string) error {
	client, err := m.backend(accountID)
	if err != nil {
		return err
	}

	return client.Delete(ctx, accountID, itemID)
}
