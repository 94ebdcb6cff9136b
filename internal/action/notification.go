package action

import (
	"fmt"

	"github.com/opensource-finance/fraudgate/internal/domain"
)

// GatewayUser is the userId attached to decision notifications.
const GatewayUser = "fraud-gateway"

// NotificationFor describes a decision for live observers. Clean
// decisions produce no notification.
func NotificationFor(app *domain.Application, decision *domain.Decision) (domain.NotificationRequest, bool) {
	out := decision.ActionDetails
	if !decision.Matched() || out == nil {
		return domain.NotificationRequest{}, false
	}

	req := domain.NotificationRequest{UserID: GatewayUser}

	switch out.Action {
	case domain.ActionFlag:
		req.Type = domain.NotifyWarning
		if out.Severity == domain.SeverityHigh {
			req.Type = domain.NotifyError
		}
		req.Message = fmt.Sprintf("Flagged: %s - %s", app.ID, out.Reason)
	case domain.ActionBlock:
		req.Type = domain.NotifyError
		req.Message = fmt.Sprintf("Blocked: %s - %s", app.ID, out.Reason)
	case domain.ActionRoute:
		req.Type = domain.NotifyInfo
		req.Message = fmt.Sprintf("Routed: %s to %s", app.ID, out.Topic)
	case domain.ActionEnrich:
		req.Type = domain.NotifyInfo
		req.Message = fmt.Sprintf("Enriched: %s by %s", app.ID, out.RuleName)
	default:
		return domain.NotificationRequest{}, false
	}
	return req, true
}
