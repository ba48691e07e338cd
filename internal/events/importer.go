package events

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/templeman/internal/model"
	"github.com/hitoshi/templeman/internal/repository"
	"github.com/hitoshi/templeman/internal/security"
)

// デフォルト設定
const (
	defaultFetchTimeout = 15 * time.Second
	defaultMaxBodySize  = 5 * 1024 * 1024
	userAgent           = "Templeman/1.0 (+events import)"
)

// Sanitizer は取り込んだ文字列を無害化する。
type Sanitizer interface {
	Sanitize(raw string) string
}

// ImporterOption はImporterの設定を変更する。
type ImporterOption func(*Importer)

// WithHTTPClient はフィード取得に使うHTTPクライアントを差し替える。
func WithHTTPClient(c *http.Client) ImporterOption {
	return func(i *Importer) { i.client = c }
}

// WithURLValidator は取得前のURL検証を差し替える。
func WithURLValidator(fn func(string) error) ImporterOption {
	return func(i *Importer) { i.validate = fn }
}

// Importer は外部のRSS/Atomフィードから行事を取り込む。
// URLがHTMLページを指す場合は、headで告知されたフィードを辿る。
type Importer struct {
	feedURL     string
	repo        repository.TempleEventRepository
	text        Sanitizer
	html        Sanitizer
	logger      *slog.Logger
	client      *http.Client
	validate    func(string) error
	maxBodySize int64
}

// NewImporter はImporterを生成する。
// 既定ではSSRF防止付きのクライアントとURL検証を使う。
func NewImporter(
	feedURL string,
	repo repository.TempleEventRepository,
	text, html Sanitizer,
	logger *slog.Logger,
	opts ...ImporterOption,
) *Importer {
	i := &Importer{
		feedURL:     feedURL,
		repo:        repo,
		text:        text,
		html:        html,
		logger:      logger,
		validate:    security.ValidateFeedURL,
		maxBodySize: defaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.client == nil {
		i.client = security.NewFeedClient(defaultFetchTimeout)
	}
	return i
}

// Run はフィードを1回取得し、各エントリをGUIDで作成または更新する。
// 個別エントリの保存失敗はログに残して続行する。
func (i *Importer) Run(ctx context.Context) error {
	start := time.Now()

	body, err := i.fetchFeed(ctx)
	if err != nil {
		i.logger.Error("event feed fetch failed",
			slog.String("feed_url", i.feedURL),
			slog.String("error", err.Error()),
		)
		return err
	}

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return fmt.Errorf("failed to parse event feed: %w", err)
	}

	events := i.convert(parsed.Items)
	saved := 0
	for idx := range events {
		if err := i.repo.UpsertByGUID(ctx, &events[idx]); err != nil {
			i.logger.Warn("failed to store imported event",
				slog.String("guid", events[idx].GUID),
				slog.String("error", err.Error()),
			)
			continue
		}
		saved++
	}

	i.logger.Info("event feed imported",
		slog.String("feed_url", i.feedURL),
		slog.Int("items_total", len(parsed.Items)),
		slog.Int("items_saved", saved),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// fetchFeed は設定URLを取得し、フィード本文を返す。
// HTMLが返った場合は告知されたフィードを1段だけ辿る。
func (i *Importer) fetchFeed(ctx context.Context) ([]byte, error) {
	contentType, body, err := i.get(ctx, i.feedURL)
	if err != nil {
		return nil, err
	}
	if isFeedResponse(contentType, body) {
		return body, nil
	}
	if !isHTMLResponse(contentType) {
		return nil, fmt.Errorf("not a feed: %s", contentType)
	}

	link, ok := pickFeedLink(discoverFeedLinks(body, i.feedURL), i.feedURL)
	if !ok {
		return nil, fmt.Errorf("no feed advertised at %s", i.feedURL)
	}
	contentType, body, err = i.get(ctx, link.URL)
	if err != nil {
		return nil, err
	}
	if !isFeedResponse(contentType, body) {
		return nil, fmt.Errorf("advertised link is not a feed: %s", link.URL)
	}
	return body, nil
}

func (i *Importer) get(ctx context.Context, rawURL string) (string, []byte, error) {
	if err := i.validate(rawURL); err != nil {
		return "", nil, fmt.Errorf("feed url rejected: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html;q=0.8")

	resp, err := i.client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, i.maxBodySize))
	if err != nil {
		return "", nil, fmt.Errorf("failed to read %s: %w", rawURL, err)
	}
	return resp.Header.Get("Content-Type"), body, nil
}

// convert はフィードのエントリを行事に変換する。
// GUIDもリンクも持たないエントリ、タイトルが空になるエントリは取り込まない。
func (i *Importer) convert(items []*gofeed.Item) []model.TempleEvent {
	out := make([]model.TempleEvent, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}

		guid := item.GUID
		if guid == "" {
			guid = item.Link
		}
		title := i.text.Sanitize(item.Title)
		if guid == "" || title == "" {
			continue
		}

		description := item.Description
		if description == "" {
			description = item.Content
		}

		e := model.TempleEvent{
			GUID:        guid,
			Title:       title,
			Description: i.html.Sanitize(description),
			Source:      model.EventSourceFeed,
		}
		if strings.HasPrefix(item.Link, "https://") || strings.HasPrefix(item.Link, "http://") {
			e.Link = item.Link
		}
		switch {
		case item.PublishedParsed != nil:
			e.PublishedAt = item.PublishedParsed.UTC()
		case item.UpdatedParsed != nil:
			e.PublishedAt = item.UpdatedParsed.UTC()
		}
		if !e.PublishedAt.IsZero() {
			e.Date = e.PublishedAt.Format("Jan 2, 2006")
		}
		if len(item.Categories) > 0 {
			e.Location = i.text.Sanitize(item.Categories[0])
		}
		out = append(out, e)
	}
	return out
}
