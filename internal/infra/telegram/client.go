// internal/infra/telegram/client.go
package telegram

import (
	"context"

	"gopkg.in/telebot.v3"
)

// TelebotAdapter sends operator alerts through gopkg.in/telebot.v3.
type TelebotAdapter struct {
	bot        *telebot.Bot
	operatorID int64
}

func NewTelebotAdapter(b *telebot.Bot, operatorID int64) *TelebotAdapter {
	return &TelebotAdapter{bot: b, operatorID: operatorID}
}

// Alert sends text to the operator chat.
func (tba *TelebotAdapter) Alert(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	recipient := &telebot.User{ID: tba.operatorID}
	_, err := tba.bot.Send(recipient, text, &telebot.SendOptions{DisableWebPagePreview: true})
	return err
}
