package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/philippgille/chromem-go"
)

// Store 每个 scope 一个 collection，避免不同用户/服务器的记忆互相泄露
type Store struct {
	db        *chromem.DB
	embedFunc chromem.EmbeddingFunc

	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

// NewStore 创建或加载持久化向量库
func NewStore(vectorsDir string, embedFunc chromem.EmbeddingFunc) (*Store, error) {
	db, err := chromem.NewPersistentDB(vectorsDir, false)
	if err != nil {
		return nil, fmt.Errorf("open vector db: %w", err)
	}
	slog.Info("vector store loaded", "dir", vectorsDir, "collections", len(db.ListCollections()))
	return &Store{
		db:          db,
		embedFunc:   embedFunc,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func (s *Store) collection(scopeID string) (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if col, ok := s.collections[scopeID]; ok {
		return col, nil
	}
	col, err := s.db.GetOrCreateCollection("scope-"+scopeID, nil, s.embedFunc)
	if err != nil {
		return nil, fmt.Errorf("get/create collection: %w", err)
	}
	s.collections[scopeID] = col
	return col, nil
}

// Query 检索相似片段
func (s *Store) Query(ctx context.Context, scopeID, text string, topK int, minSimilarity float32) ([]Result, error) {
	col, err := s.collection(scopeID)
	if err != nil {
		return nil, err
	}
	if col.Count() == 0 {
		return nil, nil
	}

	k := topK
	if k > col.Count() {
		k = col.Count()
	}

	docs, err := col.Query(ctx, text, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}

	var results []Result
	for _, d := range docs {
		if d.Similarity < minSimilarity {
			continue
		}
		results = append(results, Result{
			Content:    d.Content,
			Similarity: d.Similarity,
			Metadata:   d.Metadata,
		})
	}
	return results, nil
}

// Add 写入一个文档
func (s *Store) Add(ctx context.Context, scopeID string, doc chromem.Document) error {
	col, err := s.collection(scopeID)
	if err != nil {
		return err
	}
	return col.AddDocument(ctx, doc)
}

// Count 返回 scope 的文档数量
func (s *Store) Count(scopeID string) int {
	col, err := s.collection(scopeID)
	if err != nil {
		return 0
	}
	return col.Count()
}

type Result struct {
	Content    string
	Similarity float32
	Metadata   map[string]string
}
