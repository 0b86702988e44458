package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/CosmoTheDev/ctrlscan-api/internal/config"
	"github.com/CosmoTheDev/ctrlscan-api/models"
)

// SlackChannel posts events to a Slack incoming webhook as one attachment.
type SlackChannel struct {
	cfg config.SlackNotifyConfig
	poster
}

func NewSlack(cfg config.SlackNotifyConfig) *SlackChannel {
	return &SlackChannel{cfg: cfg, poster: newPoster()}
}

func (s *SlackChannel) Name() string       { return "slack" }
func (s *SlackChannel) IsConfigured() bool { return s.cfg.WebhookURL != "" }

type slackField struct {
	Title string `json:"title"`
	Value any    `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color     string       `json:"color"`
	Title     string       `json:"title"`
	TitleLink string       `json:"title_link,omitempty"`
	Text      string       `json:"text"`
	Fields    []slackField `json:"fields,omitempty"`
	Footer    string       `json:"footer"`
	Ts        int64        `json:"ts"`
}

type slackMessage struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

func (s *SlackChannel) Send(ctx context.Context, evt Event) error {
	att := slackAttachment{
		Color:     severityColor(evt.Severity),
		Title:     evt.Title,
		TitleLink: evt.URL,
		Text:      evt.Body,
		Footer:    "ctrlscan-api",
		Ts:        time.Now().Unix(),
	}
	if evt.TestID != 0 {
		att.Fields = []slackField{
			{Title: "Product", Value: evt.ProductID, Short: true},
			{Title: "Test", Value: evt.TestID, Short: true},
		}
	}
	if evt.Severity != "" {
		att.Fields = append(att.Fields, slackField{Title: "Highest severity", Value: evt.Severity, Short: true})
	}
	body, err := json.Marshal(slackMessage{Text: evt.Title, Attachments: []slackAttachment{att}})
	if err != nil {
		return err
	}
	return s.post(ctx, "slack webhook", s.cfg.WebhookURL, body, nil)
}

func severityColor(sev string) string {
	level, _ := models.ParseSeverity(sev)
	switch level {
	case models.SeverityCritical:
		return "#FF0000"
	case models.SeverityHigh:
		return "#FF6600"
	case models.SeverityMedium:
		return "#FFAA00"
	case models.SeverityLow:
		return "#0099FF"
	default:
		return "#888888"
	}
}
