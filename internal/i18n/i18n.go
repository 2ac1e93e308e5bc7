// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

// package i18n translates the messages iscsictl prints. Translations live
// in embedded YAML files under locales/, one per language.
package i18n // import "github.com/toeirei/iscsictl/internal/i18n"

import (
	"embed"
	"fmt"
	"io/fs"
	"strings"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var localeFS embed.FS

var (
	bundle    *i18n.Bundle
	localizer *i18n.Localizer
	current   string
	available map[string]string
)

// Init loads every embedded locale and selects lang. Unknown languages fall
// back to English.
func Init(lang string) {
	bundle = i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("yaml", yaml.Unmarshal)
	available = map[string]string{}

	files, _ := fs.ReadDir(localeFS, "locales")
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		data, err := localeFS.ReadFile("locales/" + f.Name())
		if err != nil {
			continue
		}
		if _, err := bundle.ParseMessageFileBytes(data, f.Name()); err != nil {
			continue
		}
		code := strings.TrimSuffix(f.Name(), ".yaml")
		available[code] = displayName(code)
	}

	if _, ok := available[lang]; !ok {
		lang = "en"
	}
	current = lang
	localizer = i18n.NewLocalizer(bundle, lang)
}

func displayName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.Self.Name(tag); name != "" {
		return name
	}
	return code
}

// GetLang returns the active language code.
func GetLang() string {
	if localizer == nil {
		Init("en")
	}
	return current
}

// GetAvailableLocales maps each embedded language code to its own name.
func GetAvailableLocales() map[string]string {
	if localizer == nil {
		Init("en")
	}
	out := make(map[string]string, len(available))
	for k, v := range available {
		out[k] = v
	}
	return out
}

// T translates messageID. A single map argument is used as template data;
// any other arguments are applied with fmt.Sprintf. Unknown ids are
// returned unchanged.
func T(messageID string, args ...any) string {
	if localizer == nil {
		Init("en")
	}
	cfg := &i18n.LocalizeConfig{MessageID: messageID}
	if len(args) == 1 {
		if data, ok := args[0].(map[string]any); ok {
			cfg.TemplateData = data
			args = nil
		}
	}
	msg, err := localizer.Localize(cfg)
	if err != nil {
		return messageID
	}
	if len(args) > 0 {
		return fmt.Sprintf(msg, args...)
	}
	return msg
}
