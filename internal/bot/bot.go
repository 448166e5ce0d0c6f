// Package bot answers leaf photos sent to a Telegram bot.
package bot

import (
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/Brownie44l1/leaf-api/internal/imaging"
	"github.com/Brownie44l1/leaf-api/internal/model"
)

const (
	replyTopK = 3

	// maxPhotoBytes bounds downloads; Telegram caps bot downloads at 20 MB.
	maxPhotoBytes = 20 << 20

	msgHelp = `Send me a photo of a tomato leaf and I will tell you which disease it most likely shows.

Commands:
/classes - list the labels I can recognize
/help - show this message`

	msgSendPhoto       = "Please send a photo of a tomato leaf."
	msgUnknownCommand  = "Unknown command. Use /help."
	msgInvalidImage    = "I could not read that image. Please send a JPEG or PNG photo."
	msgProcessingError = "Something went wrong while analysing the photo. Please try again."
)

// Predictor is the inference service as seen by the bot.
type Predictor interface {
	Predict(img image.Image, topk int) (*model.PredictionResult, error)
}

type Bot struct {
	api       *tgbotapi.BotAPI
	predictor Predictor
	client    *http.Client
}

// NewBot authorizes against the Telegram API.
func NewBot(token string, predictor Predictor) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to authorize telegram bot")
	}

	klog.Infof("Telegram bot authorized on account %s", api.Self.UserName)

	return &Bot{
		api:       api,
		predictor: predictor,
		client:    http.DefaultClient,
	}, nil
}

// Run polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		b.reply(msg, commandReply(msg.Command()))
		return
	}

	fileID, ok := imageFileID(msg)
	if !ok {
		b.reply(msg, msgSendPhoto)
		return
	}

	data, err := b.downloadFile(ctx, fileID)
	if err != nil {
		klog.Errorf("Failed to download telegram file %s: %v", fileID, err)
		b.reply(msg, msgProcessingError)
		return
	}

	img, _, err := imaging.Decode(data)
	if err != nil {
		b.reply(msg, msgInvalidImage)
		return
	}

	result, err := b.predictor.Predict(img, replyTopK)
	if errors.Is(err, model.ErrInvalidInput) {
		b.reply(msg, msgInvalidImage)
		return
	}
	if err != nil {
		klog.Errorf("Prediction for chat %d failed: %v", msg.Chat.ID, err)
		b.reply(msg, msgProcessingError)
		return
	}

	b.reply(msg, formatResult(result))
}

func commandReply(command string) string {
	switch command {
	case "start", "help":
		return msgHelp
	case "classes":
		return "Known labels:\n" + strings.Join(model.Classes(), "\n")
	default:
		return msgUnknownCommand
	}
}

// imageFileID picks the largest photo size, or an image sent as a document.
func imageFileID(msg *tgbotapi.Message) (string, bool) {
	if len(msg.Photo) > 0 {
		return msg.Photo[len(msg.Photo)-1].FileID, true
	}
	if msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/") {
		return msg.Document.FileID, true
	}
	return "", false
}

func formatResult(result *model.PredictionResult) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Prediction: %s (%.1f%%)\n", result.PredClass, 100*result.Probs[result.PredClass])
	if result.IsHealthy {
		sb.WriteString("The leaf looks healthy.\n")
	} else {
		sb.WriteString("The leaf shows signs of disease.\n")
	}

	sb.WriteString("\nTop candidates:\n")
	for i, entry := range result.TopK {
		fmt.Fprintf(&sb, "%d. %s - %.1f%%\n", i+1, entry.ClassName, 100*entry.Prob)
	}

	return strings.TrimRight(sb.String(), "\n")
}

func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.Link(b.api.Token), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	return data, nil
}

func (b *Bot) reply(to *tgbotapi.Message, text string) {
	msg := tgbotapi.NewMessage(to.Chat.ID, text)
	msg.ReplyToMessageID = to.MessageID
	if _, err := b.api.Send(msg); err != nil {
		klog.Errorf("Failed to send telegram message: %v", err)
	}
}
