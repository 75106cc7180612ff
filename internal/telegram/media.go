package telegram

import (
	"strings"

	"github.com/gotd/td/tg"
)

// convertMedia turns message media into something that can be sent again.
// Link previews are not media: the text carries the link and the preview is
// rebuilt by telegram. Media that has no input form (polls, geo, contacts...)
// keeps a nil Input and fails on send, which triggers the text fallback.
func convertMedia(media tg.MessageMediaClass) *Media {
	switch m := media.(type) {
	case nil:
		return nil
	case *tg.MessageMediaEmpty, *tg.MessageMediaWebPage:
		return nil
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return &Media{Kind: MediaPhoto}
		}
		return &Media{
			Kind: MediaPhoto,
			Input: &tg.InputMediaPhoto{
				ID: &tg.InputPhoto{
					ID:            photo.ID,
					AccessHash:    photo.AccessHash,
					FileReference: photo.FileReference,
				},
			},
		}
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return &Media{Kind: MediaDocument}
		}
		return &Media{
			Kind: documentKind(doc),
			Input: &tg.InputMediaDocument{
				ID: &tg.InputDocument{
					ID:            doc.ID,
					AccessHash:    doc.AccessHash,
					FileReference: doc.FileReference,
				},
			},
		}
	default:
		return &Media{Kind: MediaOther}
	}
}

// documentKind labels a document by its attributes, then by mime type.
func documentKind(doc *tg.Document) MediaKind {
	for _, attr := range doc.Attributes {
		switch attr.(type) {
		case *tg.DocumentAttributeVideo:
			return MediaVideo
		case *tg.DocumentAttributeAudio:
			return MediaAudio
		}
	}

	switch {
	case strings.HasPrefix(doc.MimeType, "video/"):
		return MediaVideo
	case strings.HasPrefix(doc.MimeType, "audio/"):
		return MediaAudio
	case strings.HasPrefix(doc.MimeType, "image/"):
		return MediaImage
	default:
		return MediaDocument
	}
}
