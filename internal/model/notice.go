package model

// NoticeVariant は通知の表示種別。
type NoticeVariant string

const (
	NoticeDefault     NoticeVariant = "default"
	NoticeDestructive NoticeVariant = "destructive"
)

// Notice は画面遷移と同時に一度だけ表示する通知を表す。
type Notice struct {
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Variant     NoticeVariant `json:"variant"`
}

// NewNotice は通常の通知を生成する。
func NewNotice(title, description string) *Notice {
	return &Notice{Title: title, Description: description, Variant: NoticeDefault}
}

// NewErrorNotice はエラー表示用の通知を生成する。
func NewErrorNotice(title, description string) *Notice {
	return &Notice{Title: title, Description: description, Variant: NoticeDestructive}
}
