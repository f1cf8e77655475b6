// Fire-and-forget Telegram notifications for pipeline failures.
// A notifier must never interrupt the error path that triggered it,
// so delivery failures are logged and swallowed.
package notify

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

type TelegramNotifier struct {
	token  string
	chatId string

	baseURL    string
	httpClient *http.Client
}

func NewTelegramNotifier(token, chatId string) *TelegramNotifier {
	return &TelegramNotifier{
		token:      token,
		chatId:     chatId,
		baseURL:    "https://api.telegram.org",
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify sends message to the configured chat. Errors are logged only.
func (n *TelegramNotifier) Notify(message string) {
	if n == nil || n.token == "" || n.chatId == "" {
		return
	}

	payload := url.Values{
		"chat_id": {n.chatId},
		"text":    {message},
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.token)

	resp, err := n.httpClient.Post(endpoint, "application/x-www-form-urlencoded",
		strings.NewReader(payload.Encode()))
	if err != nil {
		log.Errorf("Failed to send telegram notification: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Errorf("Failed to send telegram notification: status %s", resp.Status)
	}
}
