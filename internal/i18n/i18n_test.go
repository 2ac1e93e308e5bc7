// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package i18n

import "testing"

func TestInitAndAvailableLocales(t *testing.T) {
	Init("en")
	if GetLang() != "en" {
		t.Fatalf("expected lang 'en', got %q", GetLang())
	}
	av := GetAvailableLocales()
	for _, k := range []string{"en", "de"} {
		if _, ok := av[k]; !ok {
			t.Fatalf("expected available locale %q", k)
		}
	}
	if av["de"] != "Deutsch" {
		t.Fatalf("unexpected display name for de: %q", av["de"])
	}
}

func TestT_Formatting(t *testing.T) {
	Init("en")
	if got := T("msg.target_deployed", "iqn.x:id01", "admin"); got != "Target iqn.x:id01 exported on admin" {
		t.Fatalf("unexpected translation: %q", got)
	}
	if got := T("msg.smoke_ok"); got != "Smoke test passed" {
		t.Fatalf("unexpected translation: %q", got)
	}
}

func TestT_German(t *testing.T) {
	Init("de")
	defer Init("en")
	if got := T("msg.smoke_ok"); got != "Rauchtest bestanden" {
		t.Fatalf("unexpected translation: %q", got)
	}
}

func TestT_UnknownIDAndLanguage(t *testing.T) {
	Init("xx")
	if GetLang() != "en" {
		t.Fatalf("unknown language should fall back to en, got %q", GetLang())
	}
	if got := T("does.not.exist"); got != "does.not.exist" {
		t.Fatalf("expected id fallback, got %q", got)
	}
}
