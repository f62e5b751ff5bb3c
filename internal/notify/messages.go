package notify

import (
	"errors"
	"strings"

	"healthvoice/internal/api"
	"healthvoice/pkg/model"
)

type messages struct {
	sent                  string
	sendFailed            string
	loginExpired          string
	backendRestart        string
	mockNotice            string
	deliveryFailed        string
	providerNotConfigured string
	invalidPhone          string
	providerCallFailed    string
	normalFallback        string
	smsSent               string
	pending               string
	statusUnknown         string
}

var catalog = map[model.Language]messages{
	model.LanguageEnglish: {
		sent:                  "WhatsApp summary sent successfully.",
		sendFailed:            "Failed to send WhatsApp summary.",
		loginExpired:          "Session expired. Please login again.",
		backendRestart:        "Backend was updated. Restart backend and try again.",
		mockNotice:            "This is a mock send only. Configure Twilio for real WhatsApp delivery.",
		deliveryFailed:        "WhatsApp delivery failed.",
		providerNotConfigured: "Twilio is not configured. Set TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, and TWILIO_WHATSAPP_FROM in .env, then restart backend.",
		invalidPhone:          "Invalid phone number. Enter number with country code (e.g. +919699526226).",
		providerCallFailed:    "Twilio failed to send the message. Check Twilio sandbox/approved recipient setup.",
		normalFallback:        "Twilio is unavailable, so the summary was sent in normal-message fallback mode.",
		smsSent:               "SMS sent successfully.",
		pending:               "WhatsApp message is queued. Checking final delivery status...",
		statusUnknown:         "Could not confirm WhatsApp delivery status.",
	},
	model.LanguageHindi: {
		sent:                  "व्हाट्सऐप सारांश भेज दिया गया।",
		sendFailed:            "व्हाट्सऐप सारांश भेजने में समस्या आई।",
		loginExpired:          "सेशन समाप्त हो गया है। कृपया दोबारा लॉगिन करें।",
		backendRestart:        "बैकएंड अपडेट हुआ है। कृपया बैकएंड रीस्टार्ट करें और फिर कोशिश करें।",
		mockNotice:            "यह डेमो (mock) भेजा गया है। असली WhatsApp संदेश के लिए Twilio कॉन्फ़िगर करें।",
		deliveryFailed:        "WhatsApp डिलीवरी विफल हुई।",
		providerNotConfigured: "Twilio कॉन्फ़िगर नहीं है। .env में TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN और TWILIO_WHATSAPP_FROM सेट करें, फिर backend रीस्टार्ट करें।",
		invalidPhone:          "फोन नंबर मान्य नहीं है। देश कोड सहित नंबर डालें (उदा: +919699526226)।",
		providerCallFailed:    "Twilio से संदेश भेजने में समस्या आई। कृपया Twilio sandbox/approved number जांचें।",
		normalFallback:        "Twilio उपलब्ध नहीं है, इसलिए सारांश सामान्य संदेश मोड में भेजा गया है।",
		smsSent:               "SMS सफलतापूर्वक भेजा गया।",
		pending:               "व्हाट्सऐप संदेश कतार में है। अंतिम डिलीवरी स्थिति जांची जा रही है...",
		statusUnknown:         "व्हाट्सऐप डिलीवरी स्थिति की पुष्टि नहीं हो सकी।",
	},
}

func textsFor(language model.Language) messages {
	if m, ok := catalog[language]; ok {
		return m
	}
	return catalog[model.LanguageEnglish]
}

// StatusMessage is the user facing line for a delivery status
func StatusMessage(status model.DeliveryStatus, providerReference string, language model.Language) string {
	texts := textsFor(language)

	switch status = status.Normalize(); {
	case status == model.DeliveryStatusMock:
		return texts.mockNotice
	case status == model.DeliveryStatusSMSSent:
		return texts.smsSent
	case status == model.DeliveryStatusNormalMessage:
		return texts.normalFallback
	case status.IsFailure():
		return FailureMessage(providerReference, language)
	case status == model.DeliveryStatusDelivered:
		return texts.sent
	}
	return texts.pending
}

// FailureMessage localizes a provider failure code
func FailureMessage(providerReference string, language model.Language) string {
	texts := textsFor(language)

	switch reason := model.FailureReason(providerReference); reason {
	case model.ReasonDeliveryFailed:
		return texts.deliveryFailed
	case model.ReasonProviderNotConfigured:
		return texts.providerNotConfigured
	case model.ReasonInvalidRecipient:
		return texts.invalidPhone
	case model.ReasonProviderCallFailed:
		return texts.providerCallFailed
	default:
		return reason
	}
}

// ErrorMessage localizes a failed send or status request
func ErrorMessage(err error, language model.Language) string {
	texts := textsFor(language)

	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Unauthorized():
			return texts.loginExpired
		case apiErr.NotFound():
			return texts.backendRestart
		case strings.TrimSpace(apiErr.Detail) != "":
			return apiErr.Detail
		}
	}
	if errors.Is(err, ErrNoRecipient) {
		return err.Error()
	}
	return texts.sendFailed
}

// UnknownStatusMessage is shown when every status poll failed
func UnknownStatusMessage(language model.Language) string {
	return textsFor(language).statusUnknown
}
