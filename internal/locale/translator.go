// Package locale liefert die lokalisierten Überschriften, die der Kiosk zu
// jedem Ereignis der Frame-Schleife anzeigt.
package locale

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"facebooth-go/config"
	"facebooth-go/internal/core/models"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/language"
)

// Nachrichten-IDs der Überschriften
const (
	CaptionNoFace      = "caption.no_face"
	CaptionDetecting   = "caption.detecting"
	CaptionConfirmed   = "caption.confirmed"
	CaptionMatching    = "caption.matching"
	CaptionMatchResult = "caption.match_result"
	CaptionMatchFailed = "caption.match_failed"
	CaptionFaceEnded   = "caption.face_ended"
	CaptionSpritesheet = "caption.spritesheet"
)

var builtin = map[language.Tag][]*i18n.Message{
	language.English: {
		{ID: CaptionNoFace, Other: "Step in front of the camera"},
		{ID: CaptionDetecting, Other: "Looking for a face"},
		{ID: CaptionConfirmed, Other: "Live"},
		{ID: CaptionMatching, Other: "Finding your matches"},
		{ID: CaptionMatchResult, Other: "Your matches"},
		{ID: CaptionMatchFailed, Other: "Please look into the camera"},
		{ID: CaptionFaceEnded, Other: "See you next time"},
		{ID: CaptionSpritesheet, Other: "Your sprite sheet is ready"},
	},
	language.German: {
		{ID: CaptionNoFace, Other: "Stell dich vor die Kamera"},
		{ID: CaptionDetecting, Other: "Suche nach einem Gesicht"},
		{ID: CaptionConfirmed, Other: "Live"},
		{ID: CaptionMatching, Other: "Suche nach deinen Treffern"},
		{ID: CaptionMatchResult, Other: "Deine Treffer"},
		{ID: CaptionMatchFailed, Other: "Bitte schau in die Kamera"},
		{ID: CaptionFaceEnded, Other: "Bis zum nächsten Mal"},
		{ID: CaptionSpritesheet, Other: "Dein Sprite-Sheet ist fertig"},
	},
}

// Translator hält das Übersetzungsbündel und den Sprachabgleich
type Translator struct {
	bundle      *i18n.Bundle
	matcher     language.Matcher
	defaultLang string
	languages   []string
}

// NewTranslator erstellt einen Übersetzer mit den eingebauten Texten und
// optional zusätzlichen JSON-Dateien aus cfg.LocalesDir (z.B. "fr.json")
func NewTranslator(cfg config.I18nConfig) (*Translator, error) {
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "en"
	}
	defaultTag, err := language.Parse(cfg.DefaultLanguage)
	if err != nil {
		return nil, fmt.Errorf("invalid default language %q: %w", cfg.DefaultLanguage, err)
	}

	bundle := i18n.NewBundle(defaultTag)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	for tag, msgs := range builtin {
		if err := bundle.AddMessages(tag, msgs...); err != nil {
			return nil, fmt.Errorf("failed to add %s messages: %w", tag, err)
		}
	}

	if cfg.LocalesDir != "" {
		localeFiles, err := os.ReadDir(cfg.LocalesDir)
		if err != nil {
			return nil, fmt.Errorf("failed to read locales directory: %w", err)
		}
		for _, file := range localeFiles {
			if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
				continue
			}
			filePath := filepath.Join(cfg.LocalesDir, file.Name())
			if _, err := bundle.LoadMessageFile(filePath); err != nil {
				return nil, fmt.Errorf("failed to load %s: %w", filePath, err)
			}
			log.Debugf("Loaded locale file %s", filePath)
		}
	}

	// Die Standardsprache muss vorne stehen, sie ist der Fallback des Matchers
	tags := []language.Tag{defaultTag}
	for _, tag := range bundle.LanguageTags() {
		if tag != defaultTag {
			tags = append(tags, tag)
		}
	}
	languages := make([]string, 0, len(tags))
	for _, tag := range tags {
		languages = append(languages, tag.String())
	}

	return &Translator{
		bundle:      bundle,
		matcher:     language.NewMatcher(tags),
		defaultLang: defaultTag.String(),
		languages:   languages,
	}, nil
}

// DefaultLanguage liefert die Standardsprache
func (t *Translator) DefaultLanguage() string {
	return t.defaultLang
}

// Languages liefert alle verfügbaren Sprachen, Standardsprache zuerst
func (t *Translator) Languages() []string {
	return append([]string(nil), t.languages...)
}

// Match wählt die beste verfügbare Sprache für Angaben wie "de-AT" oder
// einen Accept-Language-Header
func (t *Translator) Match(preferred ...string) string {
	tag, _ := language.MatchStrings(t.matcher, preferred...)
	base, _ := tag.Base()
	for _, l := range t.languages {
		if l == base.String() {
			return l
		}
	}
	return t.defaultLang
}

// Translate liefert den Text zu einer Nachrichten-ID, oder die ID selbst
func (t *Translator) Translate(lang, id string) string {
	localizer := i18n.NewLocalizer(t.bundle, lang, t.defaultLang)
	msg, err := localizer.Localize(&i18n.LocalizeConfig{MessageID: id})
	if err != nil {
		log.Debugf("Missing translation %s for %s: %v", id, lang, err)
		return id
	}
	return msg
}

// Caption liefert die Überschrift für ein Ereignis
func (t *Translator) Caption(lang string, ev models.Event) string {
	id := CaptionID(ev)
	if id == "" {
		return ""
	}
	return t.Translate(lang, id)
}

// Captions liefert alle Überschriften einer Sprache, nach ID
func (t *Translator) Captions(lang string) map[string]string {
	ids := make([]string, 0, len(builtin[language.English]))
	for _, m := range builtin[language.English] {
		ids = append(ids, m.ID)
	}
	sort.Strings(ids)

	out := make(map[string]string, len(ids))
	for _, id := range ids {
		out[id] = t.Translate(lang, id)
	}
	return out
}

// CaptionID ordnet einem Ereignis seine Nachrichten-ID zu
func CaptionID(ev models.Event) string {
	switch ev.Type {
	case models.EventStateChanged:
		switch ev.State {
		case "no_face":
			return CaptionNoFace
		case "detecting":
			return CaptionDetecting
		case "confirmed":
			return CaptionConfirmed
		}
	case models.EventConfirmed:
		return CaptionMatching
	case models.EventMatchResult:
		return CaptionMatchResult
	case models.EventMatchFailed:
		return CaptionMatchFailed
	case models.EventFaceEnded:
		return CaptionFaceEnded
	case models.EventSpritesheet:
		return CaptionSpritesheet
	}
	return ""
}
