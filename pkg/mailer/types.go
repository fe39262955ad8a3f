package mailer

// Email is a fully-built message ready for transmission: resolved addresses,
// rendered body, headers, and any attachments.
type Email struct {
	From        string
	To          []string
	Subject     string
	HTML        string
	Text        string
	Headers     map[string]string
	Attachments []Attachment
}

// Attachment is one file attached to an email.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}
