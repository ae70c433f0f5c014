package notify

import (
	"bytes"
	"fmt"
	"html/template"

	"keepsake/internal/gift"
)

type mailTemplate struct {
	subject string
	body    *template.Template
}

var templates = map[gift.Kind]mailTemplate{
	gift.KindMessage: {
		subject: "Your message for %s is ready",
		body: template.Must(template.New("message").Parse(`<!doctype html>
<html><body style="font-family:sans-serif">
<h1>Your message for {{.Recipient}} is live</h1>
<p>Share this link, or print the QR code on your card:</p>
<p><a href="{{.Link}}">{{.Link}}</a></p>
{{if .QRCodeURL}}<p><img src="{{.QRCodeURL}}" width="300" height="300" alt="QR code"></p>{{end}}
</body></html>`)),
	},
	gift.KindCollection: {
		subject: "Your 12 cards for %s are ready",
		body: template.Must(template.New("collection").Parse(`<!doctype html>
<html><body style="font-family:sans-serif">
<h1>12 cards for {{.Recipient}}</h1>
<p>Each card can be opened once. Send this link when the moment is right:</p>
<p><a href="{{.Link}}">{{.Link}}</a></p>
{{if .QRCodeURL}}<p><img src="{{.QRCodeURL}}" width="300" height="300" alt="QR code"></p>{{end}}
</body></html>`)),
	},
}

func render(from string, u Unlock) (Email, error) {
	t, ok := templates[u.Gift.Kind]
	if !ok {
		return Email{}, fmt.Errorf("no template for %q", u.Gift.Kind)
	}

	var buf bytes.Buffer
	err := t.body.Execute(&buf, map[string]string{
		"Recipient": u.Gift.RecipientName,
		"Link":      u.Link,
		"QRCodeURL": u.QRCodeURL,
	})
	if err != nil {
		return Email{}, err
	}

	e := Email{
		From:    from,
		To:      u.Recipient,
		Subject: fmt.Sprintf(t.subject, u.Gift.RecipientName),
		HTML:    buf.String(),
	}
	if len(u.QRImage) > 0 {
		e.Attachments = []Attachment{{Filename: "qr-code.png", ContentType: "image/png", Content: u.QRImage}}
	}
	return e, nil
}
