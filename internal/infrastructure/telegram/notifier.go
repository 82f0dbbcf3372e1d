package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"CompanyResearcher/internal/domain"
	"CompanyResearcher/internal/ports"
)

const defaultAPIBase = "https://api.telegram.org"

// Notifier sends job outcomes to a Telegram chat via bot API.
type Notifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier registers bot token and chat identifier.
func NewNotifier(botToken, chatID string) *Notifier {
	return &Notifier{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  defaultAPIBase,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// NotifyJob posts a short summary of a finished job. Non-terminal jobs are ignored.
func (n *Notifier) NotifyJob(ctx context.Context, job domain.Job) error {
	if !job.Status.Terminal() {
		return nil
	}
	return n.send(ctx, Message(job))
}

// Message renders the Telegram text for a finished job.
func Message(job domain.Job) string {
	var b strings.Builder
	switch job.Status {
	case domain.JobCompleted:
		fmt.Fprintf(&b, "✅ Research for *%s* completed", job.Input.Company)
		if title, _, _ := strings.Cut(strings.TrimSpace(job.Result), "\n"); title != "" {
			fmt.Fprintf(&b, "\n%s", strings.TrimPrefix(title, "# "))
		}
		fmt.Fprintf(&b, "\nReport length: %d chars", len(job.Result))
	default:
		fmt.Fprintf(&b, "❌ Research for *%s* failed: %s", job.Input.Company, job.Error)
	}
	fmt.Fprintf(&b, "\nJob: `%s`", job.ID)
	return b.String()
}

func (n *Notifier) send(ctx context.Context, text string) error {
	if n.botToken == "" || n.chatID == "" || n.client == nil {
		return fmt.Errorf("telegram notifier misconfigured")
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.botToken)
	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", text)
	form.Set("parse_mode", "Markdown")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram error: %s", resp.Status)
	}

	return nil
}
