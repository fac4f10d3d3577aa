package wallethttp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/statechannels/wallet/msg"
)

// Client sends messages to the wallets of other participants, by posting
// them to the /messages endpoint of the wallet at the participant's URL.
type Client struct {
	HTTP *http.Client

	mu    sync.RWMutex
	peers map[string]string
}

// AddPeer sets the URL of the wallet of the participant.
func (c *Client) AddPeer(participantID, url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.peers == nil {
		c.peers = map[string]string{}
	}
	c.peers[participantID] = strings.TrimSuffix(url, "/")
}

func (c *Client) Send(ctx context.Context, m msg.Message) error {
	c.mu.RLock()
	url, ok := c.peers[m.Recipient]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no url for participant %s", m.Recipient)
	}

	b, err := msg.Marshal(m)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/messages", bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("building request to %s: %w", m.Recipient, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("posting message to %s: %w", m.Recipient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("posting message to %s: status %d: %s", m.Recipient, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
