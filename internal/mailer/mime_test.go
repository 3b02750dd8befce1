package mailer

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lnemail/backend/internal/domain"
)

func TestBuildMessage(t *testing.T) {
	t.Run("纯文本邮件往返解析", func(t *testing.T) {
		raw, err := buildMessage(OutgoingMessage{
			From:      "swiftraven042@lnemail.net",
			Recipient: "dest@example.com",
			Subject:   "问候",
			Body:      "hello from lightning",
		}, "lnemail.net")
		require.NoError(t, err)

		reader, err := mail.CreateReader(bytes.NewReader(raw))
		require.NoError(t, err)
		defer reader.Close()

		from, err := reader.Header.AddressList("From")
		require.NoError(t, err)
		require.Len(t, from, 1)
		assert.Equal(t, "swiftraven042@lnemail.net", from[0].Address)

		subject, err := reader.Header.Subject()
		require.NoError(t, err)
		assert.Equal(t, "问候", subject)

		msgID, err := reader.Header.MessageID()
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(msgID, "@lnemail.net"))

		text, _, attachments := parseMIMEBody(raw)
		assert.Equal(t, "hello from lightning", text)
		assert.Empty(t, attachments)
	})

	t.Run("附件字节往返一致", func(t *testing.T) {
		payload := []byte{0x00, 0x01, 0xfe, 0xff, 0x42}

		raw, err := buildMessage(OutgoingMessage{
			From:      "sender@lnemail.net",
			Recipient: "dest@example.com",
			Subject:   "with attachment",
			Body:      "see attached",
			Attachments: []domain.DecodedAttachment{
				{Filename: "data.bin", ContentType: "application/octet-stream", Data: payload},
				{Filename: "note.txt", ContentType: "text/plain", Data: []byte("plain note")},
			},
		}, "lnemail.net")
		require.NoError(t, err)

		text, _, attachments := parseMIMEBody(raw)
		assert.Equal(t, "see attached", text)
		require.Len(t, attachments, 2)

		assert.Equal(t, "data.bin", attachments[0].Filename)
		decoded, err := base64.StdEncoding.DecodeString(attachments[0].Content)
		require.NoError(t, err)
		assert.Equal(t, payload, decoded)

		assert.Equal(t, "note.txt", attachments[1].Filename)
		note, err := base64.StdEncoding.DecodeString(attachments[1].Content)
		require.NoError(t, err)
		assert.Equal(t, []byte("plain note"), note)
	})

	t.Run("会话线索头", func(t *testing.T) {
		raw, err := buildMessage(OutgoingMessage{
			From:       "sender@lnemail.net",
			Recipient:  "dest@example.com",
			Subject:    "Re: thread",
			Body:       "reply",
			InReplyTo:  "<parent-id@example.com>",
			References: "<root-id@example.com> <parent-id@example.com>",
		}, "lnemail.net")
		require.NoError(t, err)

		reader, err := mail.CreateReader(bytes.NewReader(raw))
		require.NoError(t, err)
		defer reader.Close()

		inReplyTo, err := reader.Header.MsgIDList("In-Reply-To")
		require.NoError(t, err)
		assert.Equal(t, []string{"parent-id@example.com"}, inReplyTo)

		references, err := reader.Header.MsgIDList("References")
		require.NoError(t, err)
		assert.Equal(t, []string{"root-id@example.com", "parent-id@example.com"}, references)
	})
}

func TestParseMIMEBodyFallback(t *testing.T) {
	t.Run("非MIME内容整体按纯文本处理", func(t *testing.T) {
		text, html, attachments := parseMIMEBody([]byte("just raw text"))

		assert.Equal(t, "just raw text", text)
		assert.Empty(t, html)
		assert.Empty(t, attachments)
	})
}
