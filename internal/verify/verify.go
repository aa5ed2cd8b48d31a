// Package verify judges, after the fact, whether an unsubscribe attempt
// likely worked. The judgement is heuristic and callers must treat it as the
// best available evidence rather than proof.
package verify

import (
	"context"
	"strings"

	"github.com/polzovatel/unsubscribe-agent/internal/browser"
)

// Outcome is the tri-state verdict of a verification.
type Outcome string

const (
	Confirmed  Outcome = "confirmed"
	Rejected   Outcome = "rejected"
	Unverified Outcome = "unverified"
)

func (o Outcome) Success() bool { return o == Confirmed }

var successPhrases = []string{
	"successfully unsubscribed",
	"you have been unsubscribed",
	"you've been unsubscribed",
	"you are unsubscribed",
	"you're unsubscribed",
	"unsubscribed successfully",
	"unsubscribe successful",
	"successfully removed",
	"you have been removed",
	"removed from our mailing list",
	"removed from the list",
	"will no longer receive",
	"won't receive any more",
	"opted out",
	"opt-out successful",
	"preferences have been updated",
	"preferences updated",
	"preferences saved",
	"subscription cancelled",
	"subscription canceled",
	"sorry to see you go",
}

var successTitleWords = []string{
	"unsubscribed",
	"unsubscribe successful",
	"opted out",
	"removed",
	"confirmation",
	"success",
}

var successPathFragments = []string{
	"unsubscribed",
	"unsubscribe-success",
	"unsubscribe_success",
	"unsubscribe/success",
	"unsubscribe/confirm",
	"optout-success",
	"opt-out-success",
	"success",
	"confirmed",
	"thank-you",
	"thankyou",
}

var errorPhrases = []string{
	"error:",
	"an error occurred",
	"something went wrong",
	"invalid request",
	"invalid link",
	"link has expired",
	"link expired",
	"try again later",
	"failed to unsubscribe",
	"could not unsubscribe",
	"unable to unsubscribe",
	"unable to process",
	"page not found",
	"404 not found",
	"subscriber not found",
	"email address not found",
	"email not found",
	"was not found in our",
	"access denied",
}

// Signals are the individual heuristics that fired.
type Signals struct {
	Text  bool
	Title bool
	URL   bool
	Error bool
}

func (s Signals) Positive() bool { return s.Text || s.Title || s.URL }

// Outcome maps signals to a verdict: any error vocabulary rejects, otherwise
// any positive signal confirms, otherwise the attempt is unverified.
func (s Signals) Outcome() Outcome {
	switch {
	case s.Error:
		return Rejected
	case s.Positive():
		return Confirmed
	default:
		return Unverified
	}
}

// Evaluate computes the signals for the given page text, title and URL.
func Evaluate(text, title, url string) Signals {
	text = strings.ToLower(text)
	title = strings.ToLower(title)
	url = strings.ToLower(url)
	return Signals{
		Text:  containsAny(text, successPhrases),
		Title: containsAny(title, successTitleWords),
		URL:   containsAny(urlPath(url), successPathFragments),
		Error: containsAny(text, errorPhrases) || containsAny(title, errorPhrases),
	}
}

// Verify reads the final page state and classifies it.
func Verify(ctx context.Context, page browser.Controller) (Outcome, Signals) {
	text, _ := page.InnerText(ctx, "body")
	title, _ := page.Title(ctx)
	sig := Evaluate(text, title, page.URL())
	return sig.Outcome(), sig
}

// urlPath strips the scheme and host so that a domain such as
// "success-mail.com" does not count as a success path.
func urlPath(u string) string {
	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
	}
	if i := strings.IndexAny(u, "/?#"); i >= 0 {
		return u[i:]
	}
	return ""
}

func containsAny(s string, needles []string) bool {
	if s == "" {
		return false
	}
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
