package handler

import (
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"unicode/utf8"
)

const (
	maxNameLen    = 100
	maxTitleLen   = 140
	maxMessageLen = 5000
)

type fieldErrors map[string]string

func (f fieldErrors) required(field, v string, max int) {
	if strings.TrimSpace(v) == "" {
		f[field] = "required"
		return
	}
	f.maxLen(field, v, max)
}

func (f fieldErrors) maxLen(field, v string, max int) {
	if utf8.RuneCountInString(v) > max {
		f[field] = fmt.Sprintf("must be at most %d characters", max)
	}
}

func (f fieldErrors) email(field, v string) {
	if v == "" {
		return
	}
	if _, err := mail.ParseAddress(v); err != nil {
		f[field] = "must be a valid email address"
	}
}

// link accepts "" as a request to clear the field.
func (f fieldErrors) link(field, v string) {
	if v == "" {
		return
	}
	u, err := url.Parse(v)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		f[field] = "must be an absolute http(s) url"
	}
}

func (f fieldErrors) optional(field string, v *string, fn func(string, string)) {
	if v != nil {
		fn(field, *v)
	}
}
