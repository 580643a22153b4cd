package aggregate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/ainews/internal/enrich"
	"github.com/hitoshi/ainews/internal/item"
	"github.com/hitoshi/ainews/internal/llm"
	"github.com/hitoshi/ainews/internal/model"
	"github.com/hitoshi/ainews/internal/repository"
	"github.com/hitoshi/ainews/internal/runlock"
	"github.com/hitoshi/ainews/internal/security"
)

// --- モック定義 ---

// memStore は外部記事と公開記事を保持するインメモリストア。
// ExternalItemRepositoryとPublicationRepositoryを実装する。
type memStore struct {
	mu         sync.Mutex
	items      map[string]*model.ExternalItem // url -> item
	articles   map[string]*model.Article      // source_url -> article
	summaries  []*model.SummaryRecord
	publishErr error
}

func newMemStore() *memStore {
	return &memStore{
		items:    map[string]*model.ExternalItem{},
		articles: map[string]*model.Article{},
	}
}

func (s *memStore) FindByURL(ctx context.Context, url string) (*model.ExternalItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it, ok := s.items[url]; ok {
		copied := *it
		return &copied, nil
	}
	return nil, nil
}

func (s *memStore) Create(ctx context.Context, it *model.ExternalItem) (*model.ExternalItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.items[it.URL]; ok {
		copied := *existing
		return &copied, nil
	}
	copied := *it
	s.items[it.URL] = &copied
	out := copied
	return &out, nil
}

func (s *memStore) RecordFailure(ctx context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if it.ID == id {
			it.Attempts++
			it.LastError = reason
		}
	}
	return nil
}

func (s *memStore) CountPending(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, it := range s.items {
		if !it.Processed {
			n++
		}
	}
	return n, nil
}

func (s *memStore) Publish(ctx context.Context, article *model.Article, summary *model.SummaryRecord, externalItemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publishErr != nil {
		return s.publishErr
	}
	var ext *model.ExternalItem
	for _, it := range s.items {
		if it.ID == externalItemID {
			ext = it
		}
	}
	if ext == nil {
		return fmt.Errorf("external item %s not found", externalItemID)
	}
	if ext.Processed {
		return repository.ErrAlreadyPublished
	}
	if _, ok := s.articles[article.SourceURL]; ok {
		ext.Processed = true
		return repository.ErrAlreadyPublished
	}
	copied := *article
	s.articles[article.SourceURL] = &copied
	s.summaries = append(s.summaries, summary)
	ext.Processed = true
	return nil
}

// memRegistry はSourceRegistryのモック。
type memRegistry struct {
	mu        sync.Mutex
	sources   []*model.Source
	listErr   error
	completed map[string]int
}

func (r *memRegistry) ListActive(ctx context.Context) ([]*model.Source, error) {
	return r.sources, r.listErr
}

func (r *memRegistry) RecordFetchCompleted(ctx context.Context, sourceID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completed == nil {
		r.completed = map[string]int{}
	}
	r.completed[sourceID]++
	return nil
}

// mockReferences はReferenceListerのモック。
type mockReferences struct {
	authors    []*model.Author
	categories []*model.Category
	err        error
}

func (m *mockReferences) ListAuthors(ctx context.Context) ([]*model.Author, error) {
	return m.authors, m.err
}

func (m *mockReferences) ListCategories(ctx context.Context) ([]*model.Category, error) {
	return m.categories, m.err
}

func fullReferences() *mockReferences {
	return &mockReferences{
		authors: []*model.Author{
			{ID: "author-claude", Name: "Claude AI Reporter"},
			{ID: "author-gpt", Name: "GPT News Writer"},
			{ID: "author-gemini", Name: "Gemini Analyst"},
		},
		categories: []*model.Category{
			{ID: "cat-ml", Slug: model.CategoryMachineLearning, Name: "Machine Learning"},
			{ID: "cat-industry", Slug: model.CategoryAIIndustry, Name: "AI Industry"},
			{ID: "cat-research", Slug: model.CategoryResearch, Name: "Research"},
			{ID: "cat-ethics", Slug: model.CategoryEthicsPolicy, Name: "Ethics & Policy"},
			{ID: "cat-apps", Slug: model.CategoryApplications, Name: "Applications"},
		},
	}
}

// fetcherFunc は関数をfeed.Fetcherとして扱う。
type fetcherFunc func(ctx context.Context, source *model.Source) []model.RawItem

func (f fetcherFunc) Fetch(ctx context.Context, source *model.Source) []model.RawItem {
	return f(ctx, source)
}

// mockCompleter はllm.Completerのモック。
type mockCompleter struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (m *mockCompleter) Complete(ctx context.Context, req llm.Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	if strings.Contains(req.System, "JSON array") {
		return `["point one", "point two", "point three"]`, nil
	}
	return "Generated text.", nil
}

func (m *mockCompleter) Model() string { return "test-model" }

// mockRecorder はRecorderのモック。
type mockRecorder struct {
	mu         sync.Mutex
	runs       []string
	skipped    []string
	dedupSkips int
	published  int
	failures   map[string]int
	pending    int
}

func (m *mockRecorder) RecordRun(trigger, status string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, trigger+":"+status)
}

func (m *mockRecorder) RecordRunSkipped(trigger string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipped = append(m.skipped, trigger)
}

func (m *mockRecorder) RecordDedupSkip() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dedupSkips++
}

func (m *mockRecorder) RecordPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published++
}

func (m *mockRecorder) RecordItemFailure(stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures == nil {
		m.failures = map[string]int{}
	}
	m.failures[stage]++
}

func (m *mockRecorder) SetPendingItems(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = n
}

// mockLocker はrunlock.Lockerのモック。
type mockLocker struct {
	err      error
	released int
}

func (m *mockLocker) TryAcquire(ctx context.Context) (func(), error) {
	if m.err != nil {
		return nil, m.err
	}
	return func() { m.released++ }, nil
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// testEnv は実際の台帳・加工・公開処理をインメモリストアで組み立てたテスト環境。
type testEnv struct {
	store     *memStore
	registry  *memRegistry
	completer *mockCompleter
	recorder  *mockRecorder
	lock      *mockLocker
	refs      *mockReferences
	logBuf    *bytes.Buffer
	fetches   int
	items     []model.RawItem
}

func newTestEnv(items []model.RawItem) *testEnv {
	return &testEnv{
		store: newMemStore(),
		registry: &memRegistry{sources: []*model.Source{
			{ID: "src-openai", Name: "OpenAI", Strategy: model.StrategyFeed, FeedURL: "https://openai.com/blog/rss.xml"},
		}},
		completer: &mockCompleter{},
		recorder:  &mockRecorder{},
		lock:      &mockLocker{},
		refs:      fullReferences(),
		logBuf:    &bytes.Buffer{},
		items:     items,
	}
}

func (e *testEnv) aggregator() *Aggregator {
	logger := newTestLogger(e.logBuf)
	return NewAggregator(Deps{
		Sources:    e.registry,
		References: e.refs,
		Fetcher: fetcherFunc(func(ctx context.Context, source *model.Source) []model.RawItem {
			e.fetches++
			return e.items
		}),
		Ledger:    item.NewLedger(e.store, item.DefaultMaxAttempts, logger),
		Enricher:  enrich.NewEnricher(e.completer, nil, logger),
		Committer: item.NewCommitter(e.store, e.store, security.NewContentSanitizer(), logger),
		Lock:      e.lock,
		Pending:   e.store,
		Recorder:  e.recorder,
		Logger:    logger,
	})
}

func sampleItems() []model.RawItem {
	published := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	return []model.RawItem{
		{Title: "New Study on Transformer Efficiency", URL: "https://openai.com/blog/study", Content: "A research paper on transformers.", PublishedAt: published},
		{Title: "AI Regulation Update", URL: "https://openai.com/blog/policy", Content: "New policy and regulation for AI.", PublishedAt: published},
	}
}

// --- テスト ---

func TestAggregator_Run_PublishesItems(t *testing.T) {
	env := newTestEnv(sampleItems())

	report, err := env.aggregator().Run(context.Background(), model.TriggerManual)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Sources != 1 || report.Fetched != 2 || report.Published != 2 {
		t.Errorf("unexpected report: %+v", report)
	}
	if len(env.store.articles) != 2 || len(env.store.summaries) != 2 {
		t.Errorf("articles=%d summaries=%d, want 2/2", len(env.store.articles), len(env.store.summaries))
	}

	study := env.store.articles["https://openai.com/blog/study"]
	if study.CategoryID != "cat-research" || study.AuthorID != "author-claude" {
		t.Errorf("study article category/author = %s/%s", study.CategoryID, study.AuthorID)
	}
	policy := env.store.articles["https://openai.com/blog/policy"]
	if policy.CategoryID != "cat-ethics" || policy.AuthorID != "author-gemini" {
		t.Errorf("policy article category/author = %s/%s", policy.CategoryID, policy.AuthorID)
	}
	if env.registry.completed["src-openai"] != 1 {
		t.Errorf("RecordFetchCompleted calls = %d, want 1", env.registry.completed["src-openai"])
	}
	if env.recorder.published != 2 {
		t.Errorf("published metric = %d, want 2", env.recorder.published)
	}
	if len(env.recorder.runs) != 1 || env.recorder.runs[0] != "manual:ok" {
		t.Errorf("runs metric = %v", env.recorder.runs)
	}
	if env.lock.released != 1 {
		t.Errorf("lock released %d times, want 1", env.lock.released)
	}
}

func TestAggregator_Run_IdempotentIngestion(t *testing.T) {
	env := newTestEnv(sampleItems())
	agg := env.aggregator()

	if _, err := agg.Run(context.Background(), model.TriggerSchedule); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	callsAfterFirst := env.completer.calls

	report, err := agg.Run(context.Background(), model.TriggerSchedule)
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}

	if len(env.store.items) != 2 {
		t.Errorf("external items = %d, want 2", len(env.store.items))
	}
	if len(env.store.articles) != 2 {
		t.Errorf("articles = %d, want 2", len(env.store.articles))
	}
	if report.Published != 0 || report.Skipped != 2 {
		t.Errorf("second run report = %+v, want 0 published and 2 skipped", report)
	}
	if env.completer.calls != callsAfterFirst {
		t.Errorf("language model called %d more times on second run", env.completer.calls-callsAfterFirst)
	}
	if env.recorder.dedupSkips != 2 {
		t.Errorf("dedup skips = %d, want 2", env.recorder.dedupSkips)
	}
}

func TestAggregator_Run_DuplicateURLInSameBatch(t *testing.T) {
	items := sampleItems()
	env := newTestEnv(append(items, items[0]))

	report, err := env.aggregator().Run(context.Background(), model.TriggerManual)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(env.store.articles) != 2 {
		t.Errorf("articles = %d, want 2", len(env.store.articles))
	}
	if report.Published != 2 || report.Skipped != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestAggregator_Run_GracefulDegradation(t *testing.T) {
	content := strings.Repeat("word ", 80) // 400文字
	env := newTestEnv([]model.RawItem{
		{Title: "Model release", URL: "https://openai.com/blog/release", Content: content, PublishedAt: time.Now()},
	})
	env.completer.err = errors.New("quota exceeded")

	report, err := env.aggregator().Run(context.Background(), model.TriggerManual)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Published != 1 || report.Degraded != 1 {
		t.Fatalf("report = %+v, want 1 published and 1 degraded", report)
	}

	article := env.store.articles["https://openai.com/blog/release"]
	if article.Summary != content[:200] {
		t.Errorf("summary = %q, want first 200 characters of content", article.Summary)
	}
	if !strings.Contains(env.logBuf.String(), "enrichment stage degraded") {
		t.Error("expected degradation log event")
	}
}

func TestAggregator_Run_MissingReferenceSkipsItem(t *testing.T) {
	env := newTestEnv(sampleItems())
	env.refs.categories = env.refs.categories[:1] // machine-learningのみ

	report, err := env.aggregator().Run(context.Background(), model.TriggerManual)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Published != 0 || report.Skipped != 2 {
		t.Errorf("report = %+v, want 2 skipped", report)
	}
	if len(env.store.items) != 0 {
		t.Errorf("no external item should be written, got %d", len(env.store.items))
	}
	if env.completer.calls != 0 {
		t.Errorf("language model should not be called, got %d calls", env.completer.calls)
	}
}

func TestAggregator_Run_CommitFailureIsContained(t *testing.T) {
	env := newTestEnv(sampleItems())
	env.store.publishErr = errors.New("connection reset")

	report, err := env.aggregator().Run(context.Background(), model.TriggerManual)
	if err != nil {
		t.Fatalf("Run should not fail on item errors: %v", err)
	}
	if report.Failed != 2 || report.Published != 0 {
		t.Errorf("report = %+v, want 2 failed", report)
	}
	if env.recorder.failures["commit"] != 2 {
		t.Errorf("commit failures metric = %d, want 2", env.recorder.failures["commit"])
	}
	for _, it := range env.store.items {
		if it.Attempts != 1 || it.Processed {
			t.Errorf("item %s attempts=%d processed=%v", it.URL, it.Attempts, it.Processed)
		}
	}
	if env.recorder.pending != 2 {
		t.Errorf("pending = %d, want 2", env.recorder.pending)
	}
	if env.registry.completed["src-openai"] != 1 {
		t.Error("source should still be recorded as fetched")
	}
}

func TestAggregator_Run_RetriesFailedItemUntilLimit(t *testing.T) {
	env := newTestEnv(sampleItems()[:1])
	env.store.publishErr = errors.New("connection reset")
	agg := env.aggregator()

	for i := 0; i < item.DefaultMaxAttempts+1; i++ {
		if _, err := agg.Run(context.Background(), model.TriggerSchedule); err != nil {
			t.Fatalf("Run #%d failed: %v", i+1, err)
		}
	}

	it := env.store.items["https://openai.com/blog/study"]
	if it.Attempts != item.DefaultMaxAttempts {
		t.Errorf("attempts = %d, want %d", it.Attempts, item.DefaultMaxAttempts)
	}
}

func TestAggregator_Run_LockHeld(t *testing.T) {
	env := newTestEnv(sampleItems())
	env.lock.err = runlock.ErrLocked

	report, err := env.aggregator().Run(context.Background(), model.TriggerManual)
	if !errors.Is(err, runlock.ErrLocked) {
		t.Fatalf("err = %v, want ErrLocked", err)
	}
	if report != nil {
		t.Errorf("report should be nil when skipped, got %+v", report)
	}
	if env.fetches != 0 {
		t.Errorf("fetcher called %d times, want 0", env.fetches)
	}
	if len(env.recorder.skipped) != 1 || env.recorder.skipped[0] != "manual" {
		t.Errorf("skipped metric = %v", env.recorder.skipped)
	}
}

func TestAggregator_Run_ConcurrentRunsWithLocalLock(t *testing.T) {
	env := newTestEnv(sampleItems())
	agg := env.aggregator()
	agg.deps.Lock = runlock.NewLocal()

	release, err := agg.deps.Lock.TryAcquire(context.Background())
	if err != nil {
		t.Fatalf("TryAcquire failed: %v", err)
	}
	if _, err := agg.Run(context.Background(), model.TriggerManual); !errors.Is(err, runlock.ErrLocked) {
		t.Errorf("err = %v, want ErrLocked while lock is held", err)
	}
	release()

	if _, err := agg.Run(context.Background(), model.TriggerManual); err != nil {
		t.Errorf("Run after release failed: %v", err)
	}
}

func TestAggregator_Run_ReferenceLoadFailureAbortsRun(t *testing.T) {
	env := newTestEnv(sampleItems())
	env.refs.err = errors.New("db unreachable")

	report, err := env.aggregator().Run(context.Background(), model.TriggerSchedule)
	if err == nil {
		t.Fatal("expected error")
	}
	if report == nil || report.Error == "" {
		t.Fatalf("report should carry the error: %+v", report)
	}
	if env.fetches != 0 {
		t.Error("no source should be fetched")
	}
	if env.recorder.runs[0] != "schedule:error" {
		t.Errorf("runs metric = %v", env.recorder.runs)
	}
}

func TestAggregator_Run_SourceListFailure(t *testing.T) {
	env := newTestEnv(sampleItems())
	env.registry.listErr = errors.New("db unreachable")

	if _, err := env.aggregator().Run(context.Background(), model.TriggerSchedule); err == nil {
		t.Fatal("expected error")
	}
	if env.lock.released != 1 {
		t.Error("lock should be released after a failed run")
	}
}

func TestAggregator_Run_ProcessesSourcesSequentiallyInOrder(t *testing.T) {
	env := newTestEnv(nil)
	env.registry.sources = []*model.Source{
		{ID: "a", Name: "Anthropic", Strategy: model.StrategyScrape},
		{ID: "b", Name: "Google AI", Strategy: model.StrategyFeed},
		{ID: "c", Name: "OpenAI", Strategy: model.StrategyFeed},
	}
	var order []string
	agg := env.aggregator()
	agg.deps.Fetcher = fetcherFunc(func(ctx context.Context, source *model.Source) []model.RawItem {
		order = append(order, source.ID)
		return nil
	})

	report, err := agg.Run(context.Background(), model.TriggerManual)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if strings.Join(order, ",") != "a,b,c" {
		t.Errorf("order = %v", order)
	}
	if report.Sources != 3 {
		t.Errorf("sources = %d, want 3", report.Sources)
	}
}

func TestAggregator_Run_CanceledContextStopsBetweenSources(t *testing.T) {
	env := newTestEnv(nil)
	env.registry.sources = []*model.Source{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}}
	ctx, cancel := context.WithCancel(context.Background())
	agg := env.aggregator()
	agg.deps.Fetcher = fetcherFunc(func(context.Context, *model.Source) []model.RawItem {
		cancel()
		return nil
	})

	report, err := agg.Run(ctx, model.TriggerManual)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if report.Sources != 1 {
		t.Errorf("sources = %d, want 1", report.Sources)
	}
}

func TestAggregator_LastReport(t *testing.T) {
	env := newTestEnv(sampleItems())
	agg := env.aggregator()

	if _, ok := agg.LastReport(); ok {
		t.Fatal("LastReport should be empty before the first run")
	}
	if _, err := agg.Run(context.Background(), model.TriggerCLI); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	last, ok := agg.LastReport()
	if !ok {
		t.Fatal("LastReport should be set after a run")
	}
	if last.Trigger != model.TriggerCLI || last.Published != 2 {
		t.Errorf("last report = %+v", last)
	}
	if last.FinishedAt.Before(last.StartedAt) {
		t.Error("FinishedAt should not precede StartedAt")
	}

	last.Published = 99
	again, _ := agg.LastReport()
	if again.Published != 2 {
		t.Error("LastReport should return a copy")
	}
}
