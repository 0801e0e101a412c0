package visitclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	gorillawebsocket "github.com/gorilla/websocket"

	"github.com/wolfman30/homecare-visits/internal/apperr"
	"github.com/wolfman30/homecare-visits/internal/notifications"
)

// Listen streams live notifications for inbox's recipient into inbox until ctx
// is done or the connection drops. onNew, when set, runs for each notification
// the inbox had not seen yet.
func (c *Client) Listen(ctx context.Context, inbox *Inbox, onNew func(*notifications.Notification)) error {
	wsURL, err := c.liveURL(inbox.Recipient().Topic())
	if err != nil {
		return err
	}
	header := http.Header{}
	header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	dialer := gorillawebsocket.Dialer{HandshakeTimeout: c.timeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return apperr.FromStatus(resp.StatusCode, "", "live subscription refused")
		}
		return apperr.Transport(err, "live subscription failed")
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return apperr.Transport(err, "live stream closed")
		}
		var evt notifications.LiveEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			c.logger.Warn("visitclient: bad live frame", "error", err)
			continue
		}
		if inbox.Apply(evt) && onNew != nil {
			onNew(evt.Notification)
		}
	}
}

func (c *Client) liveURL(topic string) (string, error) {
	u, err := url.Parse(c.baseURL + "/ws")
	if err != nil {
		return "", apperr.Validation("invalid base URL: %v", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("topic", topic)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
