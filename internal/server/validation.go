package server

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

const (
	maxTitleLength       = 200
	maxParticipantLength = 64
)

var validatorOnce sync.Once

func registerValidators() {
	validatorOnce.Do(func() {
		engine, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = engine.RegisterValidation("title", func(fl validator.FieldLevel) bool {
			_, err := validateTitle(fl.Field().String())
			return err == nil
		})
		_ = engine.RegisterValidation("participant", func(fl validator.FieldLevel) bool {
			_, err := validateParticipantID(fl.Field().String())
			return err == nil
		})
	})
}

func validateTitle(text string) (string, error) {
	trimmed := normalizeText(text)
	if trimmed == "" {
		return "", errors.New("title is required")
	}
	if len(trimmed) > maxTitleLength {
		return "", fmt.Errorf("title must be %d characters or fewer", maxTitleLength)
	}
	for _, r := range trimmed {
		if unicode.IsControl(r) {
			return "", errors.New("title contains unsupported characters")
		}
	}
	return trimmed, nil
}

// Participant ids come from the directory: printable, no spaces.
func validateParticipantID(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return "", errors.New("participant id is required")
	}
	if len(trimmed) > maxParticipantLength {
		return "", fmt.Errorf("participant id must be %d characters or fewer", maxParticipantLength)
	}
	for _, r := range trimmed {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return "", errors.New("participant id contains unsupported characters")
		}
	}
	return trimmed, nil
}

func normalizeText(text string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	return strings.Join(fields, " ")
}
