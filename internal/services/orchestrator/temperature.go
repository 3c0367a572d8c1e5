package orchestrator

import (
	"concierge/internal/domain/contact"
	"concierge/internal/domain/session"
)

// classifyTemperature maps conversation signals onto the CRM lead
// temperature. Hot means a known intent plus commitment signals, Warm
// means a known intent that is still being qualified, Cold is
// everything else.
func classifyTemperature(sess *session.Session, topConfidence float64) contact.Temperature {
	intent := sess.Entities["intent"]
	if intent == "" {
		return contact.TemperatureCold
	}

	signals := 0
	if sess.Entities["timeline"] == "soon" {
		signals++
	}
	if sess.Entities["budget"] != "" {
		signals++
	}
	if sess.Entities["motivation"] != "" {
		signals++
	}
	if topConfidence >= 0.8 {
		signals++
	}

	if signals >= 2 {
		return contact.TemperatureHot
	}
	return contact.TemperatureWarm
}
