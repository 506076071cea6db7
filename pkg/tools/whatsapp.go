package tools

import (
	"fmt"
	"net/url"
)

// whatsappTemplate is the fixed contact-link template. Only the number and
// the percent-encoded summary vary.
const whatsappTemplate = "https://wa.me/%s?text=%s"

// WhatsAppLink percent-encodes the conversation summary into the contact
// link template.
func WhatsAppLink(number, summary string) string {
	return fmt.Sprintf(whatsappTemplate, number, url.QueryEscape(summary))
}
