package validator

import (
	"github.com/brandpilot/backend/internal/domain"
)

var (
	formalIndicators = []string{"furthermore", "therefore", "moreover", "consequently", "nevertheless", "accordingly", "henceforth"}
	casualIndicators = []string{"hey", "cool", "awesome", "yeah", "gonna", "wanna", "kinda", "pretty much", "you guys"}
)

// DetectTone classifies text by counting formal and casual markers.
func DetectTone(text string) domain.Tone {
	formal := len(findTerms(text, formalIndicators))
	casual := len(findTerms(text, casualIndicators))
	switch {
	case formal > casual:
		return domain.ToneFormal
	case casual > formal:
		return domain.ToneCasual
	default:
		return domain.ToneNeutral
	}
}
