package notify

import "strings"

// DefaultLocale is used when a tenant's locale has no table.
const DefaultLocale = "en"

var defaults = map[string]map[Kind]string{
	"en": {
		KindLive:     "🔴 **{name}** is live on {platform}! {title}\n{url}",
		KindVideo:    "📺 **{name}** uploaded a new video: {title}\n{url}",
		KindPremiere: "⏰ **{name}** scheduled a premiere: {title}\n{url}",
	},
	"es": {
		KindLive:     "🔴 ¡**{name}** está en directo en {platform}! {title}\n{url}",
		KindVideo:    "📺 **{name}** subió un nuevo video: {title}\n{url}",
		KindPremiere: "⏰ **{name}** programó un estreno: {title}\n{url}",
	},
	"pt": {
		KindLive:     "🔴 **{name}** está ao vivo na {platform}! {title}\n{url}",
		KindVideo:    "📺 **{name}** enviou um novo vídeo: {title}\n{url}",
		KindPremiere: "⏰ **{name}** agendou uma estreia: {title}\n{url}",
	},
	"de": {
		KindLive:     "🔴 **{name}** ist jetzt live auf {platform}! {title}\n{url}",
		KindVideo:    "📺 **{name}** hat ein neues Video hochgeladen: {title}\n{url}",
		KindPremiere: "⏰ **{name}** hat eine Premiere geplant: {title}\n{url}",
	},
}

// Locales lists the locales with default texts.
func Locales() []string { return []string{"de", "en", "es", "pt"} }

// baseLocale maps "pt-BR" or "es_MX" to "pt" or "es".
func baseLocale(locale string) string {
	l := strings.ToLower(strings.TrimSpace(locale))
	if i := strings.IndexAny(l, "-_"); i > 0 {
		l = l[:i]
	}
	return l
}

func defaultTemplate(kind Kind, locale string) string {
	if t, ok := defaults[baseLocale(locale)][kind]; ok {
		return t
	}
	return defaults[DefaultLocale][kind]
}
