package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/CosmoTheDev/ctrlscan-api/internal/engine"
	"github.com/CosmoTheDev/ctrlscan-api/internal/notify"
	"github.com/CosmoTheDev/ctrlscan-api/models"
)

// onScanImported publishes a finished import or reimport on the SSE stream
// and to the notification channels.
func (gw *Gateway) onScanImported(ctx context.Context, s engine.Summary) {
	productID := s.ProductID
	if productID == 0 {
		id, err := gw.store.ProductOfTest(ctx, s.Test.ID)
		if err != nil {
			slog.Warn("gateway: resolving product of imported test", "test_id", s.Test.ID, "error", err)
		}
		productID = id
	}

	gw.broadcaster.send(SSEEvent{Type: "scan.imported", Payload: scanImportedPayload{
		Type:        s.ImportType,
		BatchID:     s.BatchID,
		TestID:      s.Test.ID,
		ProductID:   productID,
		ScanType:    s.Test.ScanType,
		Total:       s.Total,
		New:         s.New,
		Closed:      s.Closed,
		Reactivated: s.Reactivated,
		Untouched:   s.Untouched,
	}})

	if !gw.notifier.IsAnyConfigured() {
		return
	}
	evt := notify.Event{
		Type:      notify.EventScanAdded,
		Title:     fmt.Sprintf("%s: %s", s.Test.ScanType, s.Test.Title),
		Body:      fmt.Sprintf("%d new, %d closed, %d reactivated, %d untouched", s.New, s.Closed, s.Reactivated, s.Untouched),
		URL:       fmt.Sprintf("/api/v2/tests/%d", s.Test.ID),
		Severity:  highestSeverity(s.NewFindings),
		ProductID: productID,
		TestID:    s.Test.ID,
		Metadata: map[string]any{
			"import_type": s.ImportType,
			"batch_id":    s.BatchID,
			"total":       s.Total,
		},
	}
	go gw.notifier.Notify(context.WithoutCancel(ctx), evt)
}

// highestSeverity is "" when fs is empty.
func highestSeverity(fs []models.Finding) string {
	var top models.SeverityLevel
	for _, f := range fs {
		if f.Severity.Weight() > top.Weight() {
			top = f.Severity
		}
	}
	return string(top)
}
