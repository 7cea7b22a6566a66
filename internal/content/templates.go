package content

import "github.com/example/clinic-notify/internal/models"

type template struct {
	title     string
	subject   string
	text      string
	emailBody string
}

// templates keys channel-neutral message templates by notification
// type. Placeholders: {clinic} {name} {datetime} {treatment}.
var templates = map[models.NotificationType]template{
	models.TypeReminderSevenDay: {
		title:   "ご予約のお知らせ",
		subject: "【{clinic}】1週間後のご予約のお知らせ",
		text:    "{name}様 {datetime}にご予約があります（{treatment}）。ご都合が悪い場合はお早めにご連絡ください。{clinic}",
		emailBody: "{name}様\n\nいつもご利用ありがとうございます。\n1週間後の {datetime} にご予約があります（{treatment}）。\nご都合が悪くなられた場合は、お早めにご連絡ください。\n\n{clinic}",
	},
	models.TypeReminderThreeDay: {
		title:   "ご予約のお知らせ",
		subject: "【{clinic}】3日後のご予約のお知らせ",
		text:    "{name}様 {datetime}にご予約があります（{treatment}）。変更はお電話またはLINEでご連絡ください。{clinic}",
		emailBody: "{name}様\n\n3日後の {datetime} にご予約があります（{treatment}）。\n変更をご希望の場合はお電話またはLINEでご連絡ください。\n\n{clinic}",
	},
	models.TypeReminderOneDay: {
		title:   "明日のご予約",
		subject: "【{clinic}】明日のご予約のお知らせ",
		text:    "{name}様 明日{datetime}にご予約があります（{treatment}）。お気をつけてお越しください。{clinic}",
		emailBody: "{name}様\n\n明日 {datetime} にご予約があります（{treatment}）。\nお気をつけてお越しください。\n\n{clinic}",
	},
	models.TypeConfirmation: {
		title:   "ご予約確定",
		subject: "【{clinic}】ご予約が確定しました",
		text:    "{name}様 {datetime}のご予約が確定しました（{treatment}）。{clinic}",
		emailBody: "{name}様\n\n{datetime} のご予約が確定しました（{treatment}）。\nご来院をお待ちしております。\n\n{clinic}",
	},
	models.TypeCancellation: {
		title:   "ご予約キャンセル",
		subject: "【{clinic}】ご予約キャンセルのお知らせ",
		text:    "{name}様 {datetime}のご予約をキャンセルしました。再予約はお電話またはLINEでご連絡ください。{clinic}",
		emailBody: "{name}様\n\n{datetime} のご予約をキャンセルいたしました。\n再予約をご希望の場合はお電話またはLINEでご連絡ください。\n\n{clinic}",
	},
	models.TypeChange: {
		title:   "ご予約変更",
		subject: "【{clinic}】ご予約変更のお知らせ",
		text:    "{name}様 ご予約を{datetime}に変更しました（{treatment}）。{clinic}",
		emailBody: "{name}様\n\nご予約を {datetime} に変更いたしました（{treatment}）。\nご確認をお願いいたします。\n\n{clinic}",
	},
	models.TypeGeneric: {
		title:   "お知らせ",
		subject: "【{clinic}】お知らせ",
		text:    "{name}様 {clinic}からのお知らせです。詳細はお電話でお問い合わせください。",
		emailBody: "{name}様\n\n{clinic}からのお知らせです。\n詳細はお電話でお問い合わせください。\n\n{clinic}",
	},
}

// ReplyKind enumerates the canned webhook replies.
type ReplyKind string

const (
	ReplyWelcome      ReplyKind = "welcome"
	ReplyBooking      ReplyKind = "booking"
	ReplyChange       ReplyKind = "change"
	ReplyCancellation ReplyKind = "cancellation"
	ReplyUnregistered ReplyKind = "unregistered"
	ReplyFallback     ReplyKind = "fallback"
)

var replies = map[ReplyKind]string{
	ReplyWelcome:      "友だち追加ありがとうございます！{clinic}です。ご予約の確認やリマインドをお送りします。",
	ReplyBooking:      "ご予約をご希望ですね。お電話（診療時間内）またはWeb予約ページからお手続きください。",
	ReplyChange:       "ご予約の変更ですね。お手数ですがお電話にてご希望の日時をお知らせください。",
	ReplyCancellation: "キャンセルを承ります。確定前にスタッフより確認のご連絡をいたします。",
	ReplyUnregistered: "患者登録が確認できませんでした。お手数ですが受付までお問い合わせください。",
	ReplyFallback:     "メッセージありがとうございます。内容を確認してスタッフよりご連絡いたします。",
}

// Reply renders a canned reply for the webhook processor.
func (b *Builder) Reply(kind ReplyKind) string {
	tpl, ok := replies[kind]
	if !ok {
		tpl = replies[ReplyFallback]
	}
	return b.expand(tpl, "", "", "")
}
