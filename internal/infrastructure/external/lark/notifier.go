package lark

import (
	"context"
	"encoding/json"
	"fmt"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkIm "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/equiprent/rental-workflow/internal/application/port"
	"github.com/equiprent/rental-workflow/internal/domain/errs"
)

// messageCreator is the slice of the IM message API the notifier needs
type messageCreator interface {
	Create(ctx context.Context, req *larkIm.CreateMessageReq, options ...larkcore.RequestOptionFunc) (*larkIm.CreateMessageResp, error)
}

// Notifier posts operator alerts as interactive cards to a Lark group chat
type Notifier struct {
	messages messageCreator
	chatID   string
	logger   *zap.Logger
}

// NewNotifier creates a notifier on top of the SDK client
func NewNotifier(sdkClient *SDKClient, logger *zap.Logger) *Notifier {
	return newNotifier(sdkClient.GetClient().Im.Message, sdkClient.GetChatID(), logger)
}

func newNotifier(messages messageCreator, chatID string, logger *zap.Logger) *Notifier {
	return &Notifier{
		messages: messages,
		chatID:   chatID,
		logger:   logger,
	}
}

// NotifyOperators sends one alert card to the operator chat
func (n *Notifier) NotifyOperators(ctx context.Context, title, body string) error {
	if title == "" {
		return errs.New(errs.KindValidation, "notification title is required")
	}

	content, err := buildAlertCard(title, body)
	if err != nil {
		return fmt.Errorf("failed to build alert card: %w", err)
	}

	req := larkIm.NewCreateMessageReqBuilder().
		ReceiveIdType("chat_id").
		Body(larkIm.NewCreateMessageReqBodyBuilder().
			ReceiveId(n.chatID).
			MsgType("interactive").
			Content(content).
			Build()).
		Build()

	resp, err := n.messages.Create(ctx, req)
	if err != nil {
		n.logger.Error("Failed to send operator alert",
			zap.String("title", title),
			zap.Error(err))
		return errs.Wrap(errs.KindCollaboratorUnavailable, err, "send operator alert")
	}

	if !resp.Success() {
		n.logger.Error("Lark API returned failure",
			zap.String("title", title),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return errs.New(errs.KindCollaboratorRejected, "lark API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	messageID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		messageID = *resp.Data.MessageId
	}
	n.logger.Info("Operator alert sent",
		zap.String("message_id", messageID),
		zap.String("title", title))
	return nil
}

type cardText struct {
	Tag     string `json:"tag"`
	Content string `json:"content"`
}

type cardElement struct {
	Tag  string   `json:"tag"`
	Text cardText `json:"text"`
}

type alertCard struct {
	Config struct {
		WideScreenMode bool `json:"wide_screen_mode"`
	} `json:"config"`
	Header struct {
		Title    cardText `json:"title"`
		Template string   `json:"template"`
	} `json:"header"`
	Elements []cardElement `json:"elements"`
}

func buildAlertCard(title, body string) (string, error) {
	var card alertCard
	card.Config.WideScreenMode = true
	card.Header.Title = cardText{Tag: "plain_text", Content: title}
	card.Header.Template = "red"
	card.Elements = []cardElement{{Tag: "div", Text: cardText{Tag: "lark_md", Content: body}}}

	data, err := json.Marshal(card)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// LogNotifier records alerts in the log when no Lark chat is configured
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-only notifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// NotifyOperators writes the alert as a warning
func (n *LogNotifier) NotifyOperators(_ context.Context, title, body string) error {
	n.logger.Warn("Operator alert", zap.String("title", title), zap.String("body", body))
	return nil
}

var (
	_ port.OperatorNotifier = (*Notifier)(nil)
	_ port.OperatorNotifier = (*LogNotifier)(nil)
)
