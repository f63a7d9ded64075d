package middleware

import (
	"facebooth-go/internal/locale"

	"github.com/gin-gonic/gin"
)

// LanguageKey ist der Kontextschlüssel der ausgewählten Sprache
const LanguageKey = "language"

// I18n wählt die Sprache der Anfrage: zuerst ?lang=, dann Accept-Language,
// sonst die Standardsprache des Übersetzers
func I18n(translator *locale.Translator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var preferred []string
		if lang := c.Query("lang"); lang != "" {
			preferred = append(preferred, lang)
		}
		if accept := c.GetHeader("Accept-Language"); accept != "" {
			preferred = append(preferred, accept)
		}

		c.Set(LanguageKey, translator.Match(preferred...))
		c.Next()
	}
}

// Language liefert die von I18n gewählte Sprache
func Language(c *gin.Context) string {
	return c.GetString(LanguageKey)
}
