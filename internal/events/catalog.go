// Package events は寺院行事の一覧を提供する。
// 定例行事は組み込みのカタログから、臨時の行事は外部フィードから取り込む。
package events

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/hitoshi/templeman/internal/model"
)

//go:embed events.yaml
var defaultEventsYAML []byte

type catalogFile struct {
	Events []model.TempleEvent `yaml:"events"`
}

// ParseCatalog はYAMLから定例行事の一覧を読み込む。
func ParseCatalog(data []byte) ([]model.TempleEvent, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse event catalog: %w", err)
	}

	seen := make(map[string]bool, len(f.Events))
	for i := range f.Events {
		e := &f.Events[i]
		if e.ID == "" || e.Title == "" {
			return nil, fmt.Errorf("event %d: id and title are required", i)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("event %q: duplicate id", e.ID)
		}
		seen[e.ID] = true
		e.Source = model.EventSourceCatalog
	}
	return f.Events, nil
}

// DefaultCatalog は組み込みの定例行事を返す。
func DefaultCatalog() []model.TempleEvent {
	events, err := ParseCatalog(defaultEventsYAML)
	if err != nil {
		panic(err)
	}
	return events
}
