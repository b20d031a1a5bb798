package discord

import "github.com/Strob0t/ChangeGuard/internal/port/notifier"

func init() {
	notifier.Register(providerName, func(ep notifier.Endpoint) (notifier.Notifier, error) {
		n := NewNotifier(ep.WebhookURL)
		n.hook.SetTimeout(ep.Timeout)
		return n, nil
	})
}
