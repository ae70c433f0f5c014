package notify

import (
	"context"
	"net/http"

	"github.com/resend/resend-go/v2"
)

// ResendMailer sends through the Resend API.
type ResendMailer struct {
	client *resend.Client
}

func NewResendMailer(apiKey string) *ResendMailer {
	return newResendMailer(&http.Client{Transport: statusRecorder{next: http.DefaultTransport}}, apiKey)
}

func newResendMailer(hc *http.Client, apiKey string) *ResendMailer {
	return &ResendMailer{client: resend.NewCustomClient(hc, apiKey)}
}

type statusKey struct{}

// statusRecorder keeps the response status where Send can read it. The
// resend client reduces API failures to a message string.
type statusRecorder struct {
	next http.RoundTripper
}

func (t statusRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if resp != nil {
		if p, ok := req.Context().Value(statusKey{}).(*int); ok {
			*p = resp.StatusCode
		}
	}
	return resp, err
}

func (r *ResendMailer) Send(ctx context.Context, e Email) (string, error) {
	req := &resend.SendEmailRequest{
		From:    e.From,
		To:      []string{e.To},
		Subject: e.Subject,
		Html:    e.HTML,
	}
	for _, a := range e.Attachments {
		req.Attachments = append(req.Attachments, &resend.Attachment{
			Filename: a.Filename,
			Content:  a.Content,
		})
	}

	var status int
	sent, err := r.client.Emails.SendWithContext(context.WithValue(ctx, statusKey{}, &status), req)
	if err != nil {
		return "", classify(status, err)
	}
	return sent.Id, nil
}

// classify marks request rejections (bad address, bad payload, bad key) as
// permanent. Timeouts, rate limiting, server errors and transport failures
// (status 0) are worth another attempt.
func classify(status int, err error) error {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return err
	case status >= 400 && status < 500:
		return Permanent(err)
	default:
		return err
	}
}
