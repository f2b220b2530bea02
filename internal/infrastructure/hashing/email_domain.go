package hashing

import "strings"

// EmailDomainClass segments leads by the kind of mailbox they used
type EmailDomainClass string

const (
	EmailDomainBusiness EmailDomainClass = "business"
	EmailDomainConsumer EmailDomainClass = "consumer"
)

// consumerDomains are free webmail providers. Anything else counts as business.
var consumerDomains = map[string]struct{}{
	"gmail.com":       {},
	"googlemail.com":  {},
	"yahoo.com":       {},
	"yahoo.co.uk":     {},
	"yahoo.com.au":    {},
	"ymail.com":       {},
	"hotmail.com":     {},
	"hotmail.co.uk":   {},
	"outlook.com":     {},
	"live.com":        {},
	"live.com.au":     {},
	"msn.com":         {},
	"aol.com":         {},
	"icloud.com":      {},
	"me.com":          {},
	"mac.com":         {},
	"protonmail.com":  {},
	"proton.me":       {},
	"gmx.com":         {},
	"gmx.de":          {},
	"web.de":          {},
	"mail.com":        {},
	"zoho.com":        {},
	"yandex.com":      {},
	"yandex.ru":       {},
	"mail.ru":         {},
	"qq.com":          {},
	"163.com":         {},
	"126.com":         {},
	"bigpond.com":     {},
	"optusnet.com.au": {},
	"comcast.net":     {},
	"fastmail.com":    {},
	"tutanota.com":    {},
}

// ClassifyEmailDomain reports whether the address belongs to a free consumer
// webmail provider. Only used for analytics segmentation.
func ClassifyEmailDomain(raw string) EmailDomainClass {
	email := NormalizeEmail(raw)
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return EmailDomainBusiness
	}
	if _, ok := consumerDomains[email[at+1:]]; ok {
		return EmailDomainConsumer
	}
	return EmailDomainBusiness
}

// IsConsumer returns true for consumer webmail
func (c EmailDomainClass) IsConsumer() bool {
	return c == EmailDomainConsumer
}
