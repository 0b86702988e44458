package notify

import (
	"context"
	"log/slog"

	"github.com/CosmoTheDev/ctrlscan-api/internal/config"
	"github.com/CosmoTheDev/ctrlscan-api/models"
)

// Dispatcher fans out events to all configured channels.
type Dispatcher struct {
	channels []Channel
	minSev   models.SeverityLevel // empty = all
	events   map[string]bool
}

var defaultEvents = map[string]bool{
	EventScanAdded: true,
}

// NewDispatcher creates a Dispatcher from the given config.
// Only channels with IsConfigured() == true are active.
func NewDispatcher(cfg config.NotifyConfig) *Dispatcher {
	return newDispatcher(cfg, NewSlack(cfg.Slack), NewWebhook(cfg.Webhook))
}

func newDispatcher(cfg config.NotifyConfig, channels ...Channel) *Dispatcher {
	d := &Dispatcher{}
	if sev, ok := models.ParseSeverity(cfg.MinSeverity); ok {
		d.minSev = sev
	}
	if len(cfg.Events) > 0 {
		d.events = make(map[string]bool, len(cfg.Events))
		for _, e := range cfg.Events {
			d.events[e] = true
		}
	} else {
		d.events = defaultEvents
	}
	for _, ch := range channels {
		if ch.IsConfigured() {
			d.channels = append(d.channels, ch)
		}
	}
	return d
}

// IsAnyConfigured returns true if at least one channel is ready to send.
func (d *Dispatcher) IsAnyConfigured() bool {
	return len(d.channels) > 0
}

// Notify sends evt to all configured channels. Errors are logged but never returned.
func (d *Dispatcher) Notify(ctx context.Context, evt Event) {
	if !d.shouldSend(evt) {
		return
	}
	for _, ch := range d.channels {
		if err := ch.Send(ctx, evt); err != nil {
			slog.Warn("notify: channel send failed", "channel", ch.Name(), "event", evt.Type, "error", err)
		}
	}
}

func (d *Dispatcher) shouldSend(evt Event) bool {
	if !d.events[evt.Type] {
		return false
	}
	if d.minSev != "" && evt.Severity != "" {
		sev, ok := models.ParseSeverity(evt.Severity)
		return ok && sev.AtLeast(d.minSev)
	}
	return true
}
