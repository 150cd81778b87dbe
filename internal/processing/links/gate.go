package links

import "crypto/subtle"

type RevealStatus string

const (
	StatusRedirect RevealStatus = "redirect"
	StatusLocked   RevealStatus = "locked"
	StatusDenied   RevealStatus = "denied"
)

// Outcome is the result of Reveal. Target is set only for StatusRedirect.
type Outcome struct {
	Status RevealStatus
	Target string
}

// Reveal decides whether link's destination may be handed to the caller.
//
// Unprotected links always redirect, whatever secret is supplied. A protected
// link is locked when secret is nil and otherwise redirects only on an exact,
// case-sensitive match with the stored secret. An empty secret is a value
// like any other. Reveal never touches the store; it works on the snapshot it
// is given.
func Reveal(link *ShortLink, secret *string) Outcome {
	if !link.IsProtected {
		return Outcome{Status: StatusRedirect, Target: link.OriginalURL}
	}
	if secret == nil {
		return Outcome{Status: StatusLocked}
	}
	if subtle.ConstantTimeCompare([]byte(*secret), []byte(link.UnlockSecret)) == 1 {
		return Outcome{Status: StatusRedirect, Target: link.OriginalURL}
	}
	return Outcome{Status: StatusDenied}
}
