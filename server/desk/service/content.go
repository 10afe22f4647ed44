package service

import (
	"net/url"
	"path"
	"strings"
	"unicode/utf8"

	"desk_server/server/desk/domain"
)

const previewMaxRunes = 120

// Labels channel UIs put in the text field of a media message.
var placeholderLabels = map[string]struct{}{
	"imagem": {}, "image": {}, "img": {}, "foto": {}, "photo": {}, "picture": {},
	"vídeo": {}, "video": {},
	"áudio": {}, "audio": {}, "voice": {}, "mensagem de voz": {}, "voice message": {},
	"documento": {}, "document": {}, "doc": {},
	"arquivo": {}, "file": {},
	"sticker": {}, "figurinha": {},
	"mídia": {}, "midia": {}, "media": {},
	"anexo": {}, "attachment": {},
	"<media omitted>": {}, "<mídia oculta>": {},
}

const placeholderWrappers = " \t\r\n\"'`“”‘’«»[](){}<>"

// NormalizeContent trims text and, for media messages, drops placeholder
// labels. Empty content comes back as nil.
func NormalizeContent(content *string, mediaType *domain.MediaType) *string {
	if content == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*content)
	if trimmed == "" {
		return nil
	}
	if mediaType != nil && isPlaceholder(trimmed) {
		return nil
	}
	return &trimmed
}

func isPlaceholder(text string) bool {
	lower := strings.ToLower(text)
	if _, ok := placeholderLabels[lower]; ok {
		return true
	}
	stripped := strings.Trim(lower, placeholderWrappers)
	if stripped == "" {
		return false
	}
	_, ok := placeholderLabels[stripped]
	return ok
}

// Preview renders the ticket list line for a message.
func Preview(content *string, mediaType *domain.MediaType, mediaRef *string) string {
	if content != nil {
		if text := strings.TrimSpace(*content); text != "" {
			return truncateRunes(strings.Join(strings.Fields(text), " "), previewMaxRunes)
		}
	}
	if mediaType != nil {
		switch *mediaType {
		case domain.MediaImage:
			return "📷 Imagem"
		case domain.MediaVideo:
			return "🎥 Vídeo"
		case domain.MediaAudio:
			return "🎤 Áudio"
		case domain.MediaDocument:
			return "📄 Documento"
		}
	}
	if name := mediaFileName(mediaRef); name != "" {
		return "📎 " + name
	}
	return "📎 Arquivo"
}

func mediaFileName(mediaRef *string) string {
	if mediaRef == nil {
		return ""
	}
	ref := strings.TrimSpace(*mediaRef)
	if ref == "" {
		return ""
	}
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		ref = u.Path
	}
	name := path.Base(strings.ReplaceAll(ref, "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	return name
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
