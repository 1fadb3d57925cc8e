package statemachine

import (
	"fmt"

	"k8s.io/klog/v2"
)

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	StatusPlanning         CampaignStatus = "planning"
	StatusGenerating       CampaignStatus = "generating"
	StatusValidating       CampaignStatus = "validating"
	StatusRejected         CampaignStatus = "rejected"
	StatusAccepted         CampaignStatus = "accepted"          // terminal
	StatusExhausted        CampaignStatus = "exhausted"         // terminal
	StatusGenerationFailed CampaignStatus = "generation_failed" // stalled, resumable
)

type CampaignTransition struct {
	From CampaignStatus
	To   CampaignStatus
}

// CampaignStateMachine guards campaign status changes.
type CampaignStateMachine struct {
	allowedTransitions map[CampaignTransition]bool
}

func NewCampaignStateMachine() *CampaignStateMachine {
	sm := &CampaignStateMachine{
		allowedTransitions: make(map[CampaignTransition]bool),
	}

	// planning -> generating -> validating -> accepted | rejected -> planning | exhausted
	transitions := []CampaignTransition{
		{StatusPlanning, StatusGenerating},
		{StatusGenerating, StatusValidating},
		{StatusValidating, StatusAccepted},
		{StatusValidating, StatusRejected},
		{StatusRejected, StatusPlanning},
		{StatusRejected, StatusExhausted},

		// generator gave up after infrastructure retries
		{StatusGenerating, StatusGenerationFailed},
		{StatusGenerationFailed, StatusPlanning},

		// resume after an interrupted run
		{StatusGenerating, StatusPlanning},
		{StatusValidating, StatusPlanning},
	}

	for _, t := range transitions {
		sm.allowedTransitions[t] = true
	}
	return sm
}

func (sm *CampaignStateMachine) CanTransition(from, to CampaignStatus) bool {
	if from == to {
		return false
	}
	return sm.allowedTransitions[CampaignTransition{From: from, To: to}]
}

func (sm *CampaignStateMachine) ValidateTransition(from, to CampaignStatus) error {
	if !sm.CanTransition(from, to) {
		return &InvalidStateTransitionError{
			From: string(from),
			To:   string(to),
		}
	}
	return nil
}

// Transition validates a status change and logs it.
func (sm *CampaignStateMachine) Transition(from, to CampaignStatus, campaignID string) error {
	if err := sm.ValidateTransition(from, to); err != nil {
		klog.V(6).Infof("[StateMachine] transition rejected: campaign=%s, %s -> %s, error=%v", campaignID, from, to, err)
		return err
	}
	klog.V(6).Infof("[StateMachine] transition: campaign=%s, %s -> %s", campaignID, from, to)
	return nil
}

type InvalidStateTransitionError struct {
	From string
	To   string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid campaign state transition: %s -> %s", e.From, e.To)
}

// IsTerminal reports whether the campaign can no longer change.
func IsTerminal(status CampaignStatus) bool {
	return status == StatusAccepted || status == StatusExhausted
}

// IsStalled reports whether the campaign stopped short of a verdict and can be resumed.
func IsStalled(status CampaignStatus) bool {
	switch status {
	case StatusPlanning, StatusGenerating, StatusValidating, StatusRejected, StatusGenerationFailed:
		return true
	}
	return false
}

func TerminalStatuses() []string {
	return []string{string(StatusAccepted), string(StatusExhausted)}
}
