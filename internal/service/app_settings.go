package service

import (
	"fmt"
	"net/mail"
	"strconv"
	"strings"

	"github.com/noah-isme/mayegue-core/internal/models"
	appErrors "github.com/noah-isme/mayegue-core/pkg/errors"
)

// Known app setting keys.
const (
	SettingMaintenanceMode  = "maintenance_mode"
	SettingGuestMaxLessons  = "guest_max_lessons"
	SettingGuestMaxReadings = "guest_max_readings"
	SettingGuestMaxQuizzes  = "guest_max_quizzes"
	SettingSupportEmail     = "support_email"
	SettingDefaultLanguage  = "default_language"
)

type settingMeta struct {
	Type        models.SettingType
	Description string
	Default     string
}

var settingKeys = []string{
	SettingMaintenanceMode,
	SettingGuestMaxLessons,
	SettingGuestMaxReadings,
	SettingGuestMaxQuizzes,
	SettingSupportEmail,
	SettingDefaultLanguage,
}

var settingCatalog = map[string]settingMeta{
	SettingMaintenanceMode:  {Type: models.SettingTypeBoolean, Description: "Reject learner writes while maintenance is running", Default: "false"},
	SettingGuestMaxLessons:  {Type: models.SettingTypeInteger, Description: "Daily guest lesson allowance", Default: strconv.Itoa(defaultGuestMax)},
	SettingGuestMaxReadings: {Type: models.SettingTypeInteger, Description: "Daily guest reading allowance", Default: strconv.Itoa(defaultGuestMax)},
	SettingGuestMaxQuizzes:  {Type: models.SettingTypeInteger, Description: "Daily guest quiz allowance", Default: strconv.Itoa(defaultGuestMax)},
	SettingSupportEmail:     {Type: models.SettingTypeString, Description: "Address shown on the contact page", Default: "support@mayegue.app"},
	SettingDefaultLanguage:  {Type: models.SettingTypeString, Description: "Language offered to new learners", Default: "ewondo"},
}

func lookupSetting(key string) (settingMeta, error) {
	meta, ok := settingCatalog[key]
	if !ok {
		return settingMeta{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported setting key %q", key))
	}
	return meta, nil
}

// normaliseSetting checks value against the key's type and returns the
// canonical stored form.
func normaliseSetting(key string, meta settingMeta, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch meta.Type {
	case models.SettingTypeBoolean:
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return "", appErrors.Clone(appErrors.ErrValidation, key+" must be true or false")
		}
		return strconv.FormatBool(parsed), nil
	case models.SettingTypeInteger:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return "", appErrors.Clone(appErrors.ErrValidation, key+" must be a non-negative integer")
		}
		return strconv.Itoa(n), nil
	}
	if value == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, key+" must not be empty")
	}
	if key == SettingSupportEmail {
		if _, err := mail.ParseAddress(value); err != nil {
			return "", appErrors.Clone(appErrors.ErrValidation, "support_email must be an email address")
		}
	}
	return value, nil
}

// mergeSettings lays stored rows over the catalog defaults in catalog order.
func mergeSettings(rows []models.AppSetting) []models.AppSetting {
	stored := make(map[string]models.AppSetting, len(rows))
	for _, row := range rows {
		stored[row.Key] = row
	}
	out := make([]models.AppSetting, 0, len(settingKeys))
	for _, key := range settingKeys {
		meta := settingCatalog[key]
		if row, ok := stored[key]; ok {
			out = append(out, row)
			continue
		}
		description := meta.Description
		out = append(out, models.AppSetting{Key: key, Value: meta.Default, Type: meta.Type, Description: &description})
	}
	return out
}
