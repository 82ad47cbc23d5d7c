package mailreq

// EmailRequest is a structured email extracted from one inbound HTTP request.
// ReplyTo and HtmlBody are empty when not supplied; TextBody is always set
// and doubles as the plain-text alternative when HtmlBody is present.
type EmailRequest struct {
	From     string
	To       string
	ReplyTo  string
	Subject  string
	TextBody string
	HtmlBody string
}
