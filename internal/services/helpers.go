package services

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"brokercrm/internal/apperr"
	"brokercrm/internal/repositories"
)

const (
	defaultStateColor = "#6c757d"
	defaultStateIcon  = "circle"

	maxDisplayName = 100
	maxDescription = 500
)

var (
	stateNameRe = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)
	colorRe     = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
)

type clock func() time.Time

func utcNow() time.Time { return time.Now().UTC() }

// notFound turns repositories.ErrNotFound into a not_found error and wraps
// everything else as internal.
func notFound(err error, op, format string, args ...any) error {
	if errors.Is(err, repositories.ErrNotFound) {
		return apperr.NotFound(format, args...)
	}
	return apperr.Internal(op, err)
}

func normalizeStateName(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", apperr.Validation("name is required")
	}
	if !stateNameRe.MatchString(name) {
		return "", apperr.Validation("name %q must be 1-64 characters of a-z, 0-9 or _", name)
	}
	return name, nil
}

func normalizeDisplayName(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", apperr.Validation("display_name is required")
	}
	if len([]rune(s)) > maxDisplayName {
		return "", apperr.Validation("display_name must be at most %d characters", maxDisplayName)
	}
	return s, nil
}

func normalizeDescription(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len([]rune(s)) > maxDescription {
		return "", apperr.Validation("description must be at most %d characters", maxDescription)
	}
	return s, nil
}

func normalizeColor(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultStateColor, nil
	}
	if !colorRe.MatchString(s) {
		return "", apperr.Validation("color %q must be a #rrggbb hex value", s)
	}
	return strings.ToLower(s), nil
}

func normalizeIcon(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultStateIcon
	}
	return s
}

// normalizeComment returns nil for a missing or blank comment.
func normalizeComment(c *string) *string {
	if c == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*c)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func idLabel(id int64) string { return strconv.FormatInt(id, 10) }
