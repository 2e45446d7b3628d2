// Package notify sends Pushover notifications for swarm lifecycle events.
// Delivery is best-effort; callers log failures and move on.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ejohane/maestro-sub001/internal/config"
)

const (
	defaultAPIURL = "https://api.pushover.net/1/messages.json"

	// MaxTitleLen is the maximum length for a Pushover notification title.
	MaxTitleLen = 250

	// MaxMessageLen is the maximum length for a Pushover notification message.
	MaxMessageLen = 1024
)

// Priority levels for Pushover notifications.
const (
	PriorityLowest = -2
	PriorityLow    = -1
	PriorityNormal = 0
	PriorityHigh   = 1
)

// Response is the JSON response from the Pushover API.
type Response struct {
	Status  int      `json:"status"`
	Request string   `json:"request"`
	Errors  []string `json:"errors,omitempty"`
}

// Notifier sends notifications with the configured credentials. The zero
// value is an unconfigured notifier whose sends report an error.
type Notifier struct {
	cfg    config.PushoverConfig
	apiURL string
	client *http.Client
}

func New(cfg config.PushoverConfig) *Notifier {
	return &Notifier{cfg: cfg, apiURL: defaultAPIURL, client: http.DefaultClient}
}

// Configured reports whether credentials are set.
func (n *Notifier) Configured() bool {
	return n.cfg.UserKey != "" && n.cfg.AppToken != ""
}

// Send delivers one notification.
func (n *Notifier) Send(ctx context.Context, title, body string, priority int) error {
	if !n.Configured() {
		return fmt.Errorf("pushover not configured: set user_key and app_token in config.toml")
	}

	if len(title) > MaxTitleLen {
		title = title[:MaxTitleLen]
	}
	if len(body) > MaxMessageLen {
		body = body[:MaxMessageLen]
	}

	form := url.Values{
		"token":    {n.cfg.AppToken},
		"user":     {n.cfg.UserKey},
		"title":    {title},
		"message":  {body},
		"priority": {fmt.Sprintf("%d", priority)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending pushover notification: %w", err)
	}
	defer resp.Body.Close()

	var result Response
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding pushover response: %w", err)
	}
	if result.Status != 1 {
		return fmt.Errorf("pushover API error: %s", strings.Join(result.Errors, "; "))
	}
	return nil
}

// SwarmStarted announces a new swarm on an issue.
func (n *Notifier) SwarmStarted(ctx context.Context, projectName string, issueNumber int, issueTitle string) error {
	return n.Send(ctx,
		fmt.Sprintf("Swarm started: %s #%d", projectName, issueNumber),
		issueTitle, PriorityNormal)
}

// SwarmStopped announces a swarm torn down by request.
func (n *Notifier) SwarmStopped(ctx context.Context, projectName string, issueNumber int) error {
	return n.Send(ctx,
		fmt.Sprintf("Swarm stopped: %s #%d", projectName, issueNumber),
		"All agent sessions aborted.", PriorityNormal)
}

// SwarmFailed announces a swarm whose orchestrator died or failed to start.
func (n *Notifier) SwarmFailed(ctx context.Context, projectName string, issueNumber int, cause string) error {
	return n.Send(ctx,
		fmt.Sprintf("Swarm failed: %s #%d", projectName, issueNumber),
		cause, PriorityHigh)
}

// PermissionRequested announces an agent waiting on a tool permission.
func (n *Notifier) PermissionRequested(ctx context.Context, projectName string, issueNumber int, title string) error {
	return n.Send(ctx,
		fmt.Sprintf("Permission needed: %s #%d", projectName, issueNumber),
		title, PriorityHigh)
}
