package tools

// Modality selects which tool set a session registers.
type Modality string

const (
	// ModalityText is the turn-based chat surface.
	ModalityText Modality = "text"
	// ModalityVoice is the duplex audio surface.
	ModalityVoice Modality = "voice"
)

// Declaration describes one tool to the model service: a name plus a
// JSON-schema-like parameter description.
type Declaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Declarations returns the tool set registered for the given modality.
// Both modalities expose the booking form; voice additionally exposes the
// WhatsApp context handoff.
func Declarations(m Modality) []Declaration {
	decls := []Declaration{bookingFormDecl()}
	if m == ModalityVoice {
		decls = append(decls, whatsappDecl())
	}
	return decls
}

func bookingFormDecl() Declaration {
	strProp := func(desc string) map[string]any {
		return map[string]any{"type": "string", "description": desc}
	}

	return Declaration{
		Name: ToolOpenBookingForm,
		Description: "Open or update the repair booking form with the details " +
			"collected so far. Call again as more details arrive; each call " +
			"replaces the previous draft.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name":       strProp("Customer full name"),
				"phone":      strProp("Customer phone number"),
				"email":      strProp("Customer email address"),
				"address":    strProp("Customer street address"),
				"deviceType": strProp("Device needing service, e.g. laptop, phone"),
				"serviceType": map[string]any{
					"type": "string",
					"enum": []string{
						string(ServiceRepair),
						string(ServiceDiagnostic),
						string(ServiceSoftware),
						string(ServiceNetwork),
					},
					"description": "Category of the requested service",
				},
				"issue": strProp("Short description of the problem"),
			},
		},
	}
}

func whatsappDecl() Declaration {
	return Declaration{
		Name: ToolUpdateWhatsAppContext,
		Description: "Update the WhatsApp contact link with a summary of the " +
			"conversation so a human technician has context when the user " +
			"reaches out.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"summary": map[string]any{
					"type":        "string",
					"description": "One-paragraph summary of the conversation",
				},
			},
			"required": []string{"summary"},
		},
	}
}
