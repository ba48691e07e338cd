// Package membership は会員プランのカタログ、プラン選択の受け渡し、
// 会員申込の送信フローを提供する。
package membership

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/hitoshi/templeman/internal/model"
)

//go:embed plans.yaml
var defaultPlansYAML []byte

// Catalog は会員プランの静的カタログ。生成後は変更されない。
type Catalog struct {
	plans  []model.Plan
	byType map[string]model.Plan
}

type catalogFile struct {
	Plans []model.Plan `yaml:"plans"`
}

// ParseCatalog はYAMLからカタログを生成する。
// 種別の重複、空の種別・名称、0以下の金額はエラーとする。
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse plan catalog: %w", err)
	}
	if len(f.Plans) == 0 {
		return nil, fmt.Errorf("plan catalog is empty")
	}

	c := &Catalog{
		plans:  make([]model.Plan, 0, len(f.Plans)),
		byType: make(map[string]model.Plan, len(f.Plans)),
	}
	for i, p := range f.Plans {
		switch {
		case p.Type == "":
			return nil, fmt.Errorf("plan %d: type is required", i)
		case p.Name == "":
			return nil, fmt.Errorf("plan %q: name is required", p.Type)
		case p.Amount <= 0:
			return nil, fmt.Errorf("plan %q: amount must be positive", p.Type)
		}
		if _, dup := c.byType[p.Type]; dup {
			return nil, fmt.Errorf("plan %q: duplicate type", p.Type)
		}
		c.plans = append(c.plans, p)
		c.byType[p.Type] = p
	}
	return c, nil
}

// DefaultCatalog は組み込みのカタログを返す。
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultPlansYAML)
	if err != nil {
		panic(err)
	}
	return c
}

// Plans はカタログ順のプラン一覧のコピーを返す。
func (c *Catalog) Plans() []model.Plan {
	out := make([]model.Plan, len(c.plans))
	for i, p := range c.plans {
		out[i] = clonePlan(p)
	}
	return out
}

// Lookup は種別に対応するプランを返す。
func (c *Catalog) Lookup(planType string) (model.Plan, bool) {
	p, ok := c.byType[planType]
	if !ok {
		return model.Plan{}, false
	}
	return clonePlan(p), true
}

func clonePlan(p model.Plan) model.Plan {
	p.Features = append([]string(nil), p.Features...)
	return p
}
