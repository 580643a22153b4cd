package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hitoshi/ainews/internal/model"
	"github.com/hitoshi/ainews/internal/repository"
)

// ErrNoFeedURL はフィード方式を指定したソースのフィードURLが決まらないことを表す。
var ErrNoFeedURL = errors.New("feed strategy requires a feed url")

// Seed はシードファイルの内容を表す。
type Seed struct {
	Authors    []AuthorSeed   `yaml:"authors"`
	Categories []CategorySeed `yaml:"categories"`
	Sources    []SourceSeed   `yaml:"sources"`
}

// AuthorSeed は著者のシード定義。
type AuthorSeed struct {
	Name        string   `yaml:"name"`
	Bio         string   `yaml:"bio"`
	Avatar      string   `yaml:"avatar"`
	Specialties []string `yaml:"specialties"`
}

// CategorySeed はカテゴリのシード定義。
type CategorySeed struct {
	Slug        string `yaml:"slug"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Color       string `yaml:"color"`
}

// SourceSeed はソースのシード定義。
// Strategyを省略した場合はフィードURLの有無で決まる。
// Discoverがtrueでフィードurlが空の場合はホームページからフィードを探す。
type SourceSeed struct {
	Name        string `yaml:"name"`
	HomepageURL string `yaml:"homepage_url"`
	FeedURL     string `yaml:"feed_url"`
	LogoURL     string `yaml:"logo_url"`
	Strategy    string `yaml:"strategy"`
	Discover    bool   `yaml:"discover"`
	Active      *bool  `yaml:"active"`
}

// IsActive はactiveの指定値を返す。省略時はtrue。
func (s SourceSeed) IsActive() bool {
	return s.Active == nil || *s.Active
}

// LoadSeedFile はYAMLのシードファイルを読み込んで検証する。
func LoadSeedFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("シードファイルの読み込みに失敗: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed はYAMLをSeedに変換して検証する。
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("シードファイルの解析に失敗: %w", err)
	}
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

// Validate は必須項目と重複を検査する。問題はまとめて返す。
func (s *Seed) Validate() error {
	var errs []error

	names := make(map[string]bool)
	for i, a := range s.Authors {
		if strings.TrimSpace(a.Name) == "" {
			errs = append(errs, fmt.Errorf("authors[%d]: nameは必須です", i))
			continue
		}
		if names[a.Name] {
			errs = append(errs, fmt.Errorf("authors[%d]: nameが重複しています: %s", i, a.Name))
		}
		names[a.Name] = true
	}

	slugs := make(map[string]bool)
	for i, c := range s.Categories {
		if c.Slug == "" || c.Name == "" {
			errs = append(errs, fmt.Errorf("categories[%d]: slugとnameは必須です", i))
			continue
		}
		if slugs[c.Slug] {
			errs = append(errs, fmt.Errorf("categories[%d]: slugが重複しています: %s", i, c.Slug))
		}
		slugs[c.Slug] = true
	}

	homepages := make(map[string]bool)
	for i, src := range s.Sources {
		if src.Name == "" {
			errs = append(errs, fmt.Errorf("sources[%d]: nameは必須です", i))
		}
		if !isHTTPURL(src.HomepageURL) {
			errs = append(errs, fmt.Errorf("sources[%d]: homepage_urlが不正です: %q", i, src.HomepageURL))
		} else if homepages[src.HomepageURL] {
			errs = append(errs, fmt.Errorf("sources[%d]: homepage_urlが重複しています: %s", i, src.HomepageURL))
		}
		homepages[src.HomepageURL] = true
		if src.FeedURL != "" && !isHTTPURL(src.FeedURL) {
			errs = append(errs, fmt.Errorf("sources[%d]: feed_urlが不正です: %q", i, src.FeedURL))
		}
		if src.Strategy != "" && !model.SourceStrategy(src.Strategy).Valid() {
			errs = append(errs, fmt.Errorf("sources[%d]: strategyが不正です: %q", i, src.Strategy))
		}
	}

	return errors.Join(errs...)
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// FeedDetector はホームページからフィードURLを探すインターフェース。
type FeedDetector interface {
	Detect(ctx context.Context, pageURL string) (string, error)
}

// SyncResult は同期結果の件数を表す。
type SyncResult struct {
	Authors    int
	Categories int
	Sources    int
	Failed     int
}

// Seeder はシードの内容をデータベースへ冪等に同期する。
type Seeder struct {
	sources    repository.SourceRepository
	references repository.ReferenceRepository
	detector   FeedDetector
	logger     *slog.Logger
}

// NewSeeder はSeederを生成する。detectorがnilの場合はフィード探索を行わない。
func NewSeeder(
	sources repository.SourceRepository,
	references repository.ReferenceRepository,
	detector FeedDetector,
	logger *slog.Logger,
) *Seeder {
	return &Seeder{
		sources:    sources,
		references: references,
		detector:   detector,
		logger:     logger,
	}
}

// Sync はカテゴリ、著者、ソースの順に自然キーでupsertする。
// カテゴリと著者の保存失敗は即座にエラーを返す。
// ソースは1件ずつ処理し、失敗したものはログに記録して残りを続ける。
func (s *Seeder) Sync(ctx context.Context, seed *Seed) (*SyncResult, error) {
	result := &SyncResult{}

	for _, c := range seed.Categories {
		category := &model.Category{
			Slug:        model.CategorySlug(c.Slug),
			Name:        c.Name,
			Description: c.Description,
			Color:       c.Color,
		}
		if err := s.references.UpsertCategory(ctx, category); err != nil {
			return result, fmt.Errorf("カテゴリ %s の同期に失敗: %w", c.Slug, err)
		}
		result.Categories++
	}

	for _, a := range seed.Authors {
		author := &model.Author{
			Name:        a.Name,
			Bio:         a.Bio,
			Avatar:      a.Avatar,
			Specialties: a.Specialties,
		}
		if err := s.references.UpsertAuthor(ctx, author); err != nil {
			return result, fmt.Errorf("著者 %s の同期に失敗: %w", a.Name, err)
		}
		result.Authors++
	}

	for _, src := range seed.Sources {
		source, err := s.resolveSource(ctx, src)
		if err == nil {
			err = s.sources.UpsertByHomepage(ctx, source)
		}
		if err != nil {
			result.Failed++
			s.logger.Error("ソースの同期に失敗しました",
				slog.String("name", src.Name),
				slog.String("homepage_url", src.HomepageURL),
				slog.String("error", err.Error()),
			)
			continue
		}
		result.Sources++
		s.logger.Info("ソースを同期しました",
			slog.String("source_id", source.ID),
			slog.String("name", source.Name),
			slog.String("strategy", string(source.Strategy)),
		)
	}

	return result, nil
}

// resolveSource はシード定義から取得方式を決めたSourceを組み立てる。
func (s *Seeder) resolveSource(ctx context.Context, src SourceSeed) (*model.Source, error) {
	feedURL := src.FeedURL
	if feedURL == "" && src.Discover && s.detector != nil {
		detected, err := s.detector.Detect(ctx, src.HomepageURL)
		if err != nil {
			s.logger.Warn("フィードを検出できませんでした",
				slog.String("homepage_url", src.HomepageURL),
				slog.String("error", err.Error()),
			)
		} else {
			feedURL = detected
		}
	}

	strategy := model.SourceStrategy(src.Strategy)
	switch {
	case strategy == "":
		strategy = model.ResolveStrategy(feedURL)
	case strategy == model.StrategyFeed && feedURL == "":
		return nil, fmt.Errorf("%s: %w", src.HomepageURL, ErrNoFeedURL)
	case strategy == model.StrategyScrape:
		feedURL = ""
	}

	return &model.Source{
		Name:        src.Name,
		HomepageURL: src.HomepageURL,
		FeedURL:     feedURL,
		LogoURL:     src.LogoURL,
		Strategy:    strategy,
		Active:      src.IsActive(),
	}, nil
}
