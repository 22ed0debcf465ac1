package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"medassist-go/internal/apperr"
	"medassist-go/internal/index"
	"medassist-go/internal/model"
	"medassist-go/internal/repository"
	"medassist-go/pkg/database"
	"medassist-go/pkg/embedding"
)

type recordingMirror struct {
	docs []model.EsKnowledgeDocument
	err  error
}

func (m *recordingMirror) IndexKnowledgeItem(_ context.Context, doc model.EsKnowledgeDocument) error {
	m.docs = append(m.docs, doc)
	return m.err
}

type failingEmbedder struct{ err error }

func (f failingEmbedder) CreateEmbedding(context.Context, string) ([]float32, error) {
	return nil, f.err
}

func newKnowledgeRepo(t *testing.T) repository.KnowledgeRepository {
	t.Helper()
	db, err := database.Open("sqlite", filepath.Join(t.TempDir(), "knowledge.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&model.KnowledgeItem{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return repository.NewKnowledgeRepository(db)
}

func TestRetrieveHeadacheFromSeedCorpus(t *testing.T) {
	ctx := context.Background()
	svc := NewKnowledgeService(embedding.NewHashClient(256), newKnowledgeRepo(t), index.NewHolder(), KnowledgeOptions{ModelVersion: "hash-256"})

	n, err := svc.SeedFromFile(ctx, filepath.Join("..", "..", "initfile", "knowledge.json"))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if n == 0 {
		t.Fatal("seed loaded no items")
	}

	results, err := svc.Retrieve(ctx, "What causes headaches?", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("len = %d", len(results))
	}
	found := false
	for i, r := range results {
		if r.Item.Title == "Headache Management" {
			found = true
		}
		if i > 0 && r.SimilarityScore > results[i-1].SimilarityScore {
			t.Errorf("results not sorted: %v", results)
		}
	}
	if !found {
		t.Fatalf("Headache Management missing from %v", results)
	}

	// 再次 seed 不会重复导入
	again, err := svc.SeedFromFile(ctx, filepath.Join("..", "..", "initfile", "knowledge.json"))
	if err != nil || again != n {
		t.Fatalf("reseed = %d, %v; want %d", again, err, n)
	}
}

func TestRetrieveClampsTopK(t *testing.T) {
	ctx := context.Background()
	svc := NewKnowledgeService(embedding.NewHashClient(64), newKnowledgeRepo(t), nil, KnowledgeOptions{DefaultTopK: 2, MaxTopK: 3})
	items := []model.KnowledgeItem{
		{ID: "a", Title: "Fever", Content: "fever care"},
		{ID: "b", Title: "Cough", Content: "cough care"},
		{ID: "c", Title: "Rash", Content: "rash care"},
		{ID: "d", Title: "Sleep", Content: "sleep care"},
	}
	if _, err := svc.Ingest(ctx, items); err != nil {
		t.Fatal(err)
	}
	if r, _ := svc.Retrieve(ctx, "care", 0); len(r) != 2 {
		t.Errorf("default topK len = %d", len(r))
	}
	if r, _ := svc.Retrieve(ctx, "care", 50); len(r) != 3 {
		t.Errorf("clamped topK len = %d", len(r))
	}
}

func TestRetrieveErrors(t *testing.T) {
	ctx := context.Background()
	svc := NewKnowledgeService(embedding.NewHashClient(64), newKnowledgeRepo(t), nil, KnowledgeOptions{})
	if _, err := svc.Retrieve(ctx, "   ", 3); !errors.Is(err, apperr.ErrEmptyInput) {
		t.Fatalf("err = %v, want EmptyInput", err)
	}

	upstream := apperr.Upstream(apperr.CodeUpstreamUnavailable, errors.New("connection refused"), "embedding failed")
	broken := NewKnowledgeService(failingEmbedder{err: upstream}, newKnowledgeRepo(t), nil, KnowledgeOptions{})
	_, err := broken.Retrieve(ctx, "fever", 3)
	if !errors.Is(err, apperr.ErrRetrievalFailed) {
		t.Fatalf("err = %v, want RetrievalFailed", err)
	}
	if !apperr.Retryable(err) {
		t.Error("transient embedding failure should stay retryable")
	}
}

func TestRetrieveEmptyCorpus(t *testing.T) {
	svc := NewKnowledgeService(embedding.NewHashClient(64), newKnowledgeRepo(t), nil, KnowledgeOptions{})
	results, err := svc.Retrieve(context.Background(), "fever", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Fatalf("results = %v", results)
	}
}

func TestIngestMirrorsAndReloads(t *testing.T) {
	ctx := context.Background()
	mirror := &recordingMirror{err: errors.New("es down")}
	holder := index.NewHolder()
	svc := NewKnowledgeService(embedding.NewHashClient(64), newKnowledgeRepo(t), holder, KnowledgeOptions{Mirror: mirror, ModelVersion: "hash-64"})

	n, err := svc.Ingest(ctx, []model.KnowledgeItem{{Title: "Hydration", Content: "Drink water.", Category: "treatments"}})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || holder.Load().Len() != 1 {
		t.Fatalf("ingested %d, index size %d", n, holder.Load().Len())
	}
	if len(mirror.docs) != 1 || mirror.docs[0].ModelVersion != "hash-64" || len(mirror.docs[0].Vector) != 64 {
		t.Fatalf("mirror docs = %+v", mirror.docs)
	}

	if _, err := svc.Ingest(ctx, []model.KnowledgeItem{{Title: "", Content: "x"}}); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestIngestRejectsDimensionMismatchWithoutWriting(t *testing.T) {
	ctx := context.Background()
	repo := newKnowledgeRepo(t)
	svc := NewKnowledgeService(embedding.NewHashClient(8), repo, index.NewHolder(), KnowledgeOptions{ModelVersion: "hash-8"})

	if _, err := svc.Ingest(ctx, []model.KnowledgeItem{{ID: "a", Title: "Fever", Content: "fever care"}}); err != nil {
		t.Fatal(err)
	}
	_, err := svc.Ingest(ctx, []model.KnowledgeItem{{ID: "b", Title: "Cough", Content: "cough care", Embedding: []float32{1, 0, 0}}})
	if !errors.Is(err, apperr.ErrDimensionMismatch) {
		t.Fatalf("err = %v, want DimensionMismatch", err)
	}
	if n, _ := repo.Count(ctx); n != 1 {
		t.Fatalf("rows persisted after failed ingest = %d, want 1", n)
	}
	if _, err := svc.Reload(ctx); err != nil {
		t.Fatalf("reload after rejected ingest: %v", err)
	}

	// 重启后从同一张表恢复索引
	restarted := NewKnowledgeService(embedding.NewHashClient(8), repo, index.NewHolder(), KnowledgeOptions{ModelVersion: "hash-8"})
	if n, err := restarted.SeedFromFile(ctx, ""); err != nil || n != 1 {
		t.Fatalf("seed after restart = %d, %v", n, err)
	}
	results, err := restarted.Retrieve(ctx, "fever", 3)
	if err != nil || len(results) != 1 || results[0].Item.ID != "a" {
		t.Fatalf("retrieve after restart = %v, %v", results, err)
	}
}

func TestIngestRejectsMixedDimensionBatch(t *testing.T) {
	ctx := context.Background()
	repo := newKnowledgeRepo(t)
	svc := NewKnowledgeService(embedding.NewHashClient(8), repo, nil, KnowledgeOptions{})

	_, err := svc.Ingest(ctx, []model.KnowledgeItem{
		{ID: "a", Title: "Fever", Content: "fever care", Embedding: []float32{1, 0, 0}},
		{ID: "b", Title: "Cough", Content: "cough care"},
	})
	if !errors.Is(err, apperr.ErrDimensionMismatch) {
		t.Fatalf("err = %v, want DimensionMismatch", err)
	}
	if n, _ := repo.Count(ctx); n != 0 {
		t.Fatalf("rows persisted = %d, want 0", n)
	}
}

// gatedRepo 让第一次 FindAll 读到数据后停住，直到 release 关闭。
type gatedRepo struct {
	repository.KnowledgeRepository
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedRepo) FindAll(ctx context.Context) ([]model.KnowledgeItem, error) {
	items, err := g.KnowledgeRepository.FindAll(ctx)
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return items, err
}

func TestReloadDoesNotOverwriteNewerSnapshot(t *testing.T) {
	ctx := context.Background()
	base := newKnowledgeRepo(t)
	if err := base.Upsert(ctx, []model.KnowledgeItem{{ID: "a", Title: "Fever", Content: "fever care", Embedding: []float32{1, 0}}}); err != nil {
		t.Fatal(err)
	}
	repo := &gatedRepo{KnowledgeRepository: base, entered: make(chan struct{}), release: make(chan struct{})}
	holder := index.NewHolder()
	svc := NewKnowledgeService(embedding.NewHashClient(2), repo, holder, KnowledgeOptions{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := svc.Reload(ctx); err != nil {
			t.Errorf("reload: %v", err)
		}
	}()
	<-repo.entered
	go func() {
		defer wg.Done()
		if _, err := svc.Ingest(ctx, []model.KnowledgeItem{{ID: "b", Title: "Cough", Content: "cough care", Embedding: []float32{0, 1}}}); err != nil {
			t.Errorf("ingest: %v", err)
		}
	}()
	close(repo.release)
	wg.Wait()

	if got := holder.Load().Len(); got != 2 {
		t.Fatalf("index size = %d, want 2", got)
	}
}
