package mailer

import (
	"context"
	"fmt"
	"html"
	"net/url"

	"github.com/theognis1002/nimbus-dispatch/internal/queue"
)

const WelcomeMailer = "welcome"

// NewWelcome builds the account welcome mailer with its "send" and
// "confirm" actions.
func NewWelcome(pusher queue.Pusher) *Mailer {
	return New(WelcomeMailer, pusher).
		Handle("send", welcomeSend).
		Handle("confirm", welcomeConfirm)
}

func welcomeSend(_ context.Context, args map[string]any) (Email, error) {
	to, _ := args["email"].(string)
	if to == "" {
		return Email{}, fmt.Errorf("%w: email is required", ErrBadArgs)
	}
	name, _ := args["name"].(string)
	if name == "" {
		name = "there"
	}

	return Email{
		To:      to,
		Subject: "Welcome aboard",
		HTML: fmt.Sprintf(`<h1>Welcome, %s!</h1>
<p>Your account is ready. Head to <a href="/dashboard">your dashboard</a> to get started.</p>`,
			html.EscapeString(name)),
	}, nil
}

func welcomeConfirm(_ context.Context, args map[string]any) (Email, error) {
	to, _ := args["email"].(string)
	token, _ := args["token"].(string)
	if to == "" || token == "" {
		return Email{}, fmt.Errorf("%w: email and token are required", ErrBadArgs)
	}

	link := "/confirm?token=" + url.QueryEscape(token)
	return Email{
		To:      to,
		Subject: "Confirm your email address",
		HTML: fmt.Sprintf(`<p>Please confirm your address by following <a href="%s">this link</a>.</p>`,
			html.EscapeString(link)),
	}, nil
}
