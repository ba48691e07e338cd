package model

import "time"

// EventSource はイベント情報の出所を表す。
type EventSource string

const (
	// EventSourceCatalog は組み込みカタログ由来の定例行事。
	EventSourceCatalog EventSource = "catalog"
	// EventSourceFeed は外部フィードから取り込んだ行事。
	EventSourceFeed EventSource = "feed"
)

// TempleEvent は寺院の行事を表す。
type TempleEvent struct {
	ID          string      `json:"id" yaml:"id"`
	Title       string      `json:"title" yaml:"title"`
	Description string      `json:"description" yaml:"description"`
	Date        string      `json:"date" yaml:"date"`
	Time        string      `json:"time" yaml:"time"`
	Location    string      `json:"location" yaml:"location"`
	Link        string      `json:"link,omitempty" yaml:"link"`
	Source      EventSource `json:"source" yaml:"-"`
	// GUID はフィード取り込み時の同一性判定キー。カタログ由来では空。
	GUID        string    `json:"-" yaml:"-"`
	PublishedAt time.Time `json:"published_at,omitempty" yaml:"-"`
}
