package validator

import (
	"net/mail"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxMessageLength = 4000
	MaxNameLength    = 100
	MaxAvatarLength  = 2048
)

type ValidationErrors map[string]string

func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Add(field, message string) {
	v[field] = message
}

var displayIDRegex = regexp.MustCompile(`^[0-9]{6}$`)

func ValidateMessage(content string) ValidationErrors {
	errs := make(ValidationErrors)

	content = strings.TrimSpace(content)
	if content == "" {
		errs.Add("content", "Message content is required")
	} else if utf8.RuneCountInString(content) > MaxMessageLength {
		errs.Add("content", "Message is too long")
	}

	return errs
}

// ValidateProfile checks a partial profile edit. Nil fields are skipped;
// an empty avatar clears it.
func ValidateProfile(name, avatarURL *string) ValidationErrors {
	errs := make(ValidationErrors)

	if name != nil {
		validateName(*name, errs)
	}
	if avatarURL != nil && *avatarURL != "" {
		validateAvatar(*avatarURL, errs)
	}

	return errs
}

// ValidateNewUser checks a profile about to be created at first login.
func ValidateNewUser(id, displayID, name, email, avatarURL string) ValidationErrors {
	errs := make(ValidationErrors)

	if strings.TrimSpace(id) == "" {
		errs.Add("id", "User ID is required")
	}

	if !displayIDRegex.MatchString(displayID) {
		errs.Add("display_id", "Display ID must be 6 digits")
	}

	validateName(name, errs)

	email = strings.TrimSpace(email)
	if email == "" {
		errs.Add("email", "Email is required")
	} else if _, err := mail.ParseAddress(email); err != nil {
		errs.Add("email", "Invalid email address")
	}

	if avatarURL != "" {
		validateAvatar(avatarURL, errs)
	}

	return errs
}

func validateName(name string, errs ValidationErrors) {
	name = strings.TrimSpace(name)
	if name == "" {
		errs.Add("name", "Name is required")
	} else if utf8.RuneCountInString(name) > MaxNameLength {
		errs.Add("name", "Name is too long")
	}
}

func validateAvatar(raw string, errs ValidationErrors) {
	if len(raw) > MaxAvatarLength {
		errs.Add("avatar_url", "Avatar URL is too long")
		return
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs.Add("avatar_url", "Avatar must be an http(s) URL")
	}
}
