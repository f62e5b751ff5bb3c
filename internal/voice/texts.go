package voice

import (
	"fmt"
	"strings"

	"healthvoice/pkg/model"
)

var riskHindi = map[string]string{
	"HIGH":   "उच्च",
	"MEDIUM": "मध्यम",
	"LOW":    "कम",
}

// TriageText is what the assistant says about a triage result
func TriageText(result *model.TriageResult, language model.Language) string {
	if result == nil {
		if language == model.LanguageHindi {
			return "अभी कोई ट्रायेज परिणाम उपलब्ध नहीं है। पहले लक्षण दर्ज करें।"
		}
		return "No triage result is available yet. Please enter symptoms first."
	}

	if language != model.LanguageHindi {
		return result.AdvisoryMessage
	}

	risk, ok := riskHindi[strings.ToUpper(strings.TrimSpace(result.RiskLevel))]
	if !ok {
		risk = result.RiskLevel
	}
	emergencyLine := "कृपया जल्द डॉक्टर से सलाह लें और स्क्रीन पर दिया गया विस्तृत परामर्श पढ़ें।"
	if result.EmergencyFlag {
		emergencyLine = "यह आपातकालीन स्थिति हो सकती है। कृपया तुरंत नजदीकी अस्पताल या डॉक्टर से संपर्क करें।"
	}
	return fmt.Sprintf("ट्रायेज परिणाम तैयार है। जोखिम स्तर %s है। %s", risk, emergencyLine)
}

// EligibilityText is what the assistant says about an eligibility result
func EligibilityText(result *model.EligibilityResult, language model.Language) string {
	if result == nil {
		if language == model.LanguageHindi {
			return "अभी पात्रता परिणाम उपलब्ध नहीं है। कृपया पहले पात्रता जांच चलाएं।"
		}
		return "No eligibility result is available yet. Please run the eligibility checker first."
	}

	eligible := result.EligibleSchemes()
	ineligible := result.IneligibleSchemes()

	if language == model.LanguageHindi {
		eligibleLine := "आप अभी ट्रैक की गई किसी योजना के लिए पात्र नहीं हैं।"
		if len(eligible) > 0 {
			eligibleLine = fmt.Sprintf("आप इन योजनाओं के लिए पात्र हैं: %s।", strings.Join(eligible, ", "))
		}
		ineligibleLine := "आप सभी ट्रैक की गई योजनाओं के लिए पात्र हैं।"
		if len(ineligible) > 0 {
			ineligibleLine = fmt.Sprintf("आप इन योजनाओं के लिए अभी पात्र नहीं हैं: %s।", strings.Join(ineligible, ", "))
		}
		status := "अपात्र"
		if result.Eligible {
			status = "पात्र"
		}
		return fmt.Sprintf("पात्रता जांच पूरी हो गई है। कुल स्थिति: %s। %s %s", status, eligibleLine, ineligibleLine)
	}

	eligibleLine := "You are currently not eligible for the tracked schemes."
	if len(eligible) > 0 {
		eligibleLine = fmt.Sprintf("Eligible schemes are: %s.", strings.Join(eligible, ", "))
	}
	ineligibleLine := "You are eligible for all tracked schemes."
	if len(ineligible) > 0 {
		ineligibleLine = fmt.Sprintf("Not eligible schemes are: %s.", strings.Join(ineligible, ", "))
	}
	status := "not eligible"
	if result.Eligible {
		status = "eligible"
	}
	return fmt.Sprintf("Eligibility check complete. Overall status: %s. %s. %s %s",
		status, result.AssessmentSummary, eligibleLine, ineligibleLine)
}

// SummaryPayload builds the notification for the latest results. It returns
// false when there is no triage result to summarize.
func SummaryPayload(settings Settings, triage *model.TriageResult, eligibility *model.EligibilityResult) (model.SummaryPayload, bool) {
	if triage == nil {
		return model.SummaryPayload{}, false
	}

	city := strings.TrimSpace(settings.City)
	if city == "" {
		city = DefaultCity
	}

	payload := model.SummaryPayload{
		PhoneNumber:       strings.TrimSpace(settings.Recipient),
		TriageAdvice:      triage.AdvisoryMessage,
		RiskLevel:         triage.RiskLevel,
		EligibleSchemes:   []string{},
		City:              city,
		PreferredLanguage: settings.Language,
	}
	if eligibility != nil {
		payload.EligibilitySummary = eligibility.AssessmentSummary
		payload.EligibleSchemes = eligibility.EligibleSchemes()
	}
	return payload, true
}
