package verify

import (
	"context"
	"testing"

	"github.com/polzovatel/unsubscribe-agent/internal/browser/browsertest"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		title string
		url   string
		want  Outcome
	}{
		{"text success", "Successfully Unsubscribed", "", "https://x.com/u", Confirmed},
		{"negative wins", "Successfully Unsubscribed, Error: invalid request", "", "https://x.com/u", Rejected},
		{"title only", "Thanks!", "Unsubscribed", "https://x.com/u", Confirmed},
		{"url only", "Thanks!", "Newsletter", "https://x.com/unsubscribe/success?id=1", Confirmed},
		{"host is not a path", "Thanks!", "Newsletter", "https://success-mail.com/", Unverified},
		{"nothing", "Manage your subscription", "Preferences", "https://x.com/prefs", Unverified},
		{"error only", "Something went wrong", "", "https://x.com/u", Rejected},
		{"help text retry", "You have been unsubscribed. Didn't mean to? Try again or resubscribe.", "", "https://x.com/u", Confirmed},
		{"help text not found", "You have been unsubscribed. Email not arriving? Check the spam folder, or visit Help if a page is missing.", "", "https://x.com/u", Confirmed},
		{"retry later", "We could not process this right now, please try again later.", "", "https://x.com/u", Rejected},
		{"missing page", "404 Not Found", "", "https://x.com/u", Rejected},
		{"unknown subscriber", "Subscriber not found.", "Unsubscribe", "https://x.com/u", Rejected},
		{"error title", "", "Page Not Found", "https://x.com/unsubscribed", Rejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.text, tt.title, tt.url).Outcome(); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestVerify_ReadsPage(t *testing.T) {
	page := browsertest.NewPage()
	page.BodyText = "You have been unsubscribed from all lists."
	page.PageTitle = "Done"
	page.CurrentURL = "https://lists.example.com/done"

	outcome, sig := Verify(context.Background(), page)
	if !outcome.Success() {
		t.Errorf("expected success, got %s (%+v)", outcome, sig)
	}
	if !sig.Text || sig.Error {
		t.Errorf("unexpected signals %+v", sig)
	}
}
