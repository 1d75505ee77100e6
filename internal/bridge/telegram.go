package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	telegramAPIBase     = "https://api.telegram.org"
	telegramPollSeconds = 25
	telegramMaxText     = 3500 // under the 4096 hard limit, leaves header room
	telegramMaxLines    = 40
)

// TelegramAdapter drives the Telegram Bot API over plain HTTP long polling.
type TelegramAdapter struct {
	Token   string
	APIBase string // test override

	http    *http.Client
	botName string
	offset  int64
}

func NewTelegramAdapter(token string) *TelegramAdapter {
	return &TelegramAdapter{
		Token:   token,
		APIBase: telegramAPIBase,
		http:    &http.Client{Timeout: (telegramPollSeconds + 10) * time.Second},
	}
}

func (t *TelegramAdapter) Name() string { return "telegram" }

func (t *TelegramAdapter) url(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", t.APIBase, t.Token, method)
}

type tgResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

func (t *TelegramAdapter) call(method string, params url.Values, out any) error {
	resp, err := t.http.PostForm(t.url(method), params)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()
	var envelope tgResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("telegram %s: decode: %w", method, err)
	}
	if !envelope.OK {
		return fmt.Errorf("telegram %s: %s", method, envelope.Description)
	}
	if out != nil {
		return json.Unmarshal(envelope.Result, out)
	}
	return nil
}

func (t *TelegramAdapter) Connect() error {
	var me struct {
		Username string `json:"username"`
	}
	if err := t.call("getMe", url.Values{}, &me); err != nil {
		return err
	}
	t.botName = me.Username
	return nil
}

func (t *TelegramAdapter) Disconnect() {}

type tgChat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
}

type tgMessage struct {
	MessageID int64  `json:"message_id"`
	ThreadID  int64  `json:"message_thread_id"`
	Chat      tgChat `json:"chat"`
	From      struct {
		Username  string `json:"username"`
		FirstName string `json:"first_name"`
	} `json:"from"`
	Text     string `json:"text"`
	Caption  string `json:"caption"`
	Document *struct {
		FileID   string `json:"file_id"`
		FileName string `json:"file_name"`
		MIMEType string `json:"mime_type"`
		FileSize int64  `json:"file_size"`
	} `json:"document"`
	ReplyTo *struct {
		From struct {
			Username string `json:"username"`
		} `json:"from"`
	} `json:"reply_to_message"`
}

type tgUpdate struct {
	UpdateID int64      `json:"update_id"`
	Message  *tgMessage `json:"message"`
}

func chatTypeOf(tg string) string {
	switch tg {
	case "private":
		return ChatPrivate
	case "channel":
		return ChatChannel
	default: // group, supergroup
		return ChatGroup
	}
}

func (t *TelegramAdapter) Poll() ([]NormalizedMessage, error) {
	params := url.Values{
		"timeout":         {strconv.Itoa(telegramPollSeconds)},
		"allowed_updates": {`["message"]`},
	}
	if t.offset > 0 {
		params.Set("offset", strconv.FormatInt(t.offset, 10))
	}
	var updates []tgUpdate
	if err := t.call("getUpdates", params, &updates); err != nil {
		return nil, err
	}
	var out []NormalizedMessage
	for _, u := range updates {
		if u.UpdateID >= t.offset {
			t.offset = u.UpdateID + 1
		}
		if u.Message == nil {
			continue
		}
		out = append(out, t.normalize(u.Message))
	}
	return out, nil
}

func (t *TelegramAdapter) normalize(m *tgMessage) NormalizedMessage {
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	from := m.From.Username
	if from == "" {
		from = m.From.FirstName
	}
	msg := NormalizedMessage{
		ChatID:    strconv.FormatInt(m.Chat.ID, 10),
		ChatTitle: m.Chat.Title,
		ChatType:  chatTypeOf(m.Chat.Type),
		ThreadID:  m.ThreadID,
		Text:      text,
		FromUser:  from,
		MessageID: strconv.FormatInt(m.MessageID, 10),
	}
	if t.botName != "" {
		mention := "@" + t.botName
		if strings.Contains(text, mention) {
			msg.Routed = true
			msg.Text = strings.TrimSpace(strings.ReplaceAll(text, mention, ""))
		}
		if m.ReplyTo != nil && m.ReplyTo.From.Username == t.botName {
			msg.Routed = true
		}
	}
	if m.Document != nil {
		msg.Attachments = append(msg.Attachments, AttachmentMeta{
			ID:       m.Document.FileID,
			Filename: m.Document.FileName,
			Size:     m.Document.FileSize,
			MIME:     m.Document.MIMEType,
		})
	}
	return msg
}

func (t *TelegramAdapter) SendMessage(chatID, text string, threadID int64) error {
	params := url.Values{
		"chat_id": {chatID},
		"text":    {text},
	}
	if threadID > 0 {
		params.Set("message_thread_id", strconv.FormatInt(threadID, 10))
	}
	return t.call("sendMessage", params, nil)
}

func (t *TelegramAdapter) SendFile(chatID, filePath, filename, caption string, threadID int64) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	w.WriteField("chat_id", chatID)
	if caption != "" {
		w.WriteField("caption", caption)
	}
	if threadID > 0 {
		w.WriteField("message_thread_id", strconv.FormatInt(threadID, 10))
	}
	part, err := w.CreateFormFile("document", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	resp, err := t.http.Post(t.url("sendDocument"), w.FormDataContentType(), &body)
	if err != nil {
		return fmt.Errorf("telegram sendDocument: %w", err)
	}
	defer resp.Body.Close()
	var envelope tgResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("telegram sendDocument: decode: %w", err)
	}
	if !envelope.OK {
		return fmt.Errorf("telegram sendDocument: %s", envelope.Description)
	}
	return nil
}

func (t *TelegramAdapter) ChatTitle(chatID string) string {
	var chat tgChat
	if err := t.call("getChat", url.Values{"chat_id": {chatID}}, &chat); err != nil {
		return ""
	}
	return chat.Title
}

func (t *TelegramAdapter) DownloadAttachment(meta AttachmentMeta) ([]byte, error) {
	var file struct {
		FilePath string `json:"file_path"`
	}
	if err := t.call("getFile", url.Values{"file_id": {meta.ID}}, &file); err != nil {
		return nil, err
	}
	resp, err := t.http.Get(fmt.Sprintf("%s/file/bot%s/%s", t.APIBase, t.Token, file.FilePath))
	if err != nil {
		return nil, fmt.Errorf("telegram download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram download: status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func (t *TelegramAdapter) FormatOutbound(by string, to []string, text string, isSystem bool) string {
	return FormatOutboundDefault(by, to, Summarize(text, telegramMaxText, telegramMaxLines), isSystem)
}

// MessagesPerSecond follows the Bot API's per-chat guidance.
func (t *TelegramAdapter) MessagesPerSecond() float64 { return 1 }
