package telegram

import (
	"strings"

	"github.com/mymmrac/telego"
)

// IncomingMessage is the slice of a Telegram message the bridge cares
// about, normalised so handlers never touch raw telego types.
type IncomingMessage struct {
	ChatID    int64
	MessageID int
	// ThreadID is the forum topic id; 0 means the General topic or a
	// plain chat.
	ThreadID     int
	IsTopic      bool
	IsForum      bool
	ChatType     string
	SenderID     int64
	Text         string
	ReplyToID    int
	ReplyToText  string
	MediaGroupID string
	Document     *Attachment
	Photo        *Attachment
	Voice        *Attachment
}

// Attachment is one downloadable file on a message.
type Attachment struct {
	FileID   string
	FileName string
	MimeType string
	Size     int64
}

func fromTelegoMessage(msg *telego.Message) IncomingMessage {
	in := IncomingMessage{
		ChatID:       msg.Chat.ID,
		MessageID:    msg.MessageID,
		IsTopic:      msg.IsTopicMessage,
		IsForum:      msg.Chat.IsForum,
		ChatType:     msg.Chat.Type,
		Text:         msg.Text,
		MediaGroupID: msg.MediaGroupID,
	}
	if msg.IsTopicMessage {
		in.ThreadID = msg.MessageThreadID
	}
	if msg.From != nil {
		in.SenderID = msg.From.ID
	}
	if in.Text == "" {
		in.Text = msg.Caption
	}
	if reply := msg.ReplyToMessage; reply != nil {
		in.ReplyToID = reply.MessageID
		in.ReplyToText = reply.Text
		if in.ReplyToText == "" {
			in.ReplyToText = reply.Caption
		}
	}
	if doc := msg.Document; doc != nil {
		in.Document = &Attachment{
			FileID:   doc.FileID,
			FileName: doc.FileName,
			MimeType: doc.MimeType,
			Size:     int64(doc.FileSize),
		}
	}
	if len(msg.Photo) > 0 {
		// Telegram sends several resolutions; the last is the largest.
		best := msg.Photo[len(msg.Photo)-1]
		in.Photo = &Attachment{
			FileID:   best.FileID,
			FileName: best.FileUniqueID + ".jpg",
			Size:     int64(best.FileSize),
		}
	}
	if voice := msg.Voice; voice != nil {
		in.Voice = &Attachment{
			FileID:   voice.FileID,
			FileName: voice.FileUniqueID + ".ogg",
			MimeType: voice.MimeType,
			Size:     int64(voice.FileSize),
		}
	}
	return in
}

// HasUpload reports whether the message carries a file the put path
// can store.
func (m IncomingMessage) HasUpload() bool {
	return m.Document != nil || m.Photo != nil
}

// Upload returns the preferred attachment for the put path.
func (m IncomingMessage) Upload() *Attachment {
	if m.Document != nil {
		return m.Document
	}
	return m.Photo
}

// CommandName extracts the slash command at the start of the text,
// tolerating the @botname suffix Telegram appends in groups. Empty
// when the text is not a command.
func (m IncomingMessage) CommandName() string {
	text := strings.TrimSpace(m.Text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	token, _, _ := strings.Cut(text, " ")
	token = strings.TrimPrefix(token, "/")
	if at := strings.IndexByte(token, '@'); at >= 0 {
		token = token[:at]
	}
	return strings.ToLower(token)
}

// CommandArgs returns the text after the command token.
func (m IncomingMessage) CommandArgs() string {
	_, rest, _ := strings.Cut(strings.TrimSpace(m.Text), " ")
	return strings.TrimSpace(rest)
}
