package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/example/wash-hup/internal/models"
)

// PushMirror posts delivered notifications to an FCM HTTP v1 style endpoint
// so participants without an open socket still get an alert. Devices
// subscribe to the topic "user_<id>".
type PushMirror struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewPushMirror(endpoint, key string) *PushMirror {
	return &PushMirror{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

type pushMessage struct {
	Message struct {
		Topic        string            `json:"topic"`
		Notification pushNotification  `json:"notification"`
		Data         map[string]string `json:"data"`
	} `json:"message"`
}

type pushNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func PushTopic(userID string) string { return "user_" + userID }

func (p *PushMirror) Publish(ctx context.Context, n models.Notification) error {
	var msg pushMessage
	msg.Message.Topic = PushTopic(n.RecipientID)
	msg.Message.Notification = pushNotification{Title: n.Title, Body: n.Message}
	msg.Message.Data = map[string]string{"notification_id": n.ID, "event": n.Event}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.Key != "" {
		req.Header.Set("Authorization", "Bearer "+p.Key)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push endpoint returned %d", resp.StatusCode)
	}
	return nil
}
