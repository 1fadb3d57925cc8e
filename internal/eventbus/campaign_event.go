package eventbus

import "time"

type CampaignEventType string

const (
	CampaignEventStatus   CampaignEventType = "status"
	CampaignEventAttempt  CampaignEventType = "attempt"
	CampaignEventFinished CampaignEventType = "finished"
)

// CampaignEvent reports progress of one campaign run.
type CampaignEvent struct {
	Type       CampaignEventType `json:"type"`
	CampaignID string            `json:"campaign_id"`
	Status     string            `json:"status"`
	Revision   int               `json:"revision,omitempty"`
	Passed     bool              `json:"passed,omitempty"`
	Score      float64           `json:"score,omitempty"`
	Error      string            `json:"error,omitempty"`
	Time       time.Time         `json:"time"`
}

func (e CampaignEvent) EventType() CampaignEventType {
	return e.Type
}

type CampaignEventHandler = Handler[CampaignEvent]
type CampaignEventBus = Bus[CampaignEventType, CampaignEvent]

func NewCampaignEventBus() *CampaignEventBus {
	return NewBus[CampaignEventType, CampaignEvent]()
}
