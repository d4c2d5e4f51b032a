// Package notifications delivers whale alerts to configured webhook URLs.
package notifications

import (
	"log"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"hyperwatch/events"
)

const deliverTimeout = 10 * time.Second

// WebhookManager fans whale alerts out to the configured URLs. Each
// delivery runs async; a failed POST is retried once and then dropped.
type WebhookManager struct {
	urls   []string
	client *resty.Client
}

// NewWebhookManager creates a manager for the configured URL list. An
// empty list makes SendAlert a no-op.
func NewWebhookManager(urls []string) *WebhookManager {
	return &WebhookManager{
		urls: urls,
		client: resty.New().
			SetTimeout(deliverTimeout).
			SetHeader("Content-Type", "application/json"),
	}
}

// SendAlert delivers one alert to every webhook.
func (wm *WebhookManager) SendAlert(alert events.WhaleAlert) {
	if len(wm.urls) == 0 {
		return
	}
	for _, url := range wm.urls {
		go wm.deliver(url, alert)
	}
}

func (wm *WebhookManager) deliver(url string, alert events.WhaleAlert) {
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := wm.client.R().SetBody(alert).Post(url)
		if err == nil && resp.StatusCode() < http.StatusMultipleChoices {
			return
		}
		if attempt == 0 {
			time.Sleep(2 * time.Second)
			continue
		}
		if err != nil {
			log.Printf("⚠️  Webhook %s failed: %v", url, err)
		} else {
			log.Printf("⚠️  Webhook %s failed: status %d", url, resp.StatusCode())
		}
	}
}
