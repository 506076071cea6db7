package tools

// ServiceType categorizes the requested repair service.
type ServiceType string

const (
	ServiceRepair     ServiceType = "Repair"
	ServiceDiagnostic ServiceType = "Diagnostic"
	ServiceSoftware   ServiceType = "Software"
	ServiceNetwork    ServiceType = "Network"
)

// valid reports whether s is one of the known service types.
func (s ServiceType) valid() bool {
	switch s {
	case ServiceRepair, ServiceDiagnostic, ServiceSoftware, ServiceNetwork:
		return true
	}
	return false
}

// BookingDraft is the partial booking payload handed to the form
// collaborator. The model fills it progressively across multiple tool calls
// within one session; each call replaces the whole draft, it does not merge.
type BookingDraft struct {
	Name        string      `json:"name,omitempty"`
	Phone       string      `json:"phone,omitempty"`
	Email       string      `json:"email,omitempty"`
	Address     string      `json:"address,omitempty"`
	DeviceType  string      `json:"deviceType,omitempty"`
	ServiceType ServiceType `json:"serviceType,omitempty"`
	Description string      `json:"description,omitempty"`
}

// DraftFromArgs builds a BookingDraft from raw tool arguments. The model's
// "issue" argument maps to Description. Unknown or mistyped fields are
// ignored; an unrecognized service type is dropped rather than forwarded.
func DraftFromArgs(args map[string]any) BookingDraft {
	str := func(key string) string {
		v, _ := args[key].(string)
		return v
	}

	draft := BookingDraft{
		Name:        str("name"),
		Phone:       str("phone"),
		Email:       str("email"),
		Address:     str("address"),
		DeviceType:  str("deviceType"),
		Description: str("issue"),
	}

	if st := ServiceType(str("serviceType")); st.valid() {
		draft.ServiceType = st
	}

	return draft
}
