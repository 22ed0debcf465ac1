// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"medassist-go/internal/config"
	"medassist-go/internal/model"
	"medassist-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

var ESClient *elasticsearch.Client

// InitES 初始化 Elasticsearch 客户端，并确保知识条目索引存在（向量维度为 dims）。
func InitES(esCfg config.ElasticsearchConfig, dims int) (*KnowledgeStore, error) {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	ESClient = client
	store := NewKnowledgeStore(client, esCfg.IndexName)
	if err := store.createIndexIfNotExists(dims); err != nil {
		return nil, err
	}
	return store, nil
}

// KnowledgeStore 读写一个保存知识条目向量的索引。
type KnowledgeStore struct {
	client    *elasticsearch.Client
	indexName string
}

func NewKnowledgeStore(client *elasticsearch.Client, indexName string) *KnowledgeStore {
	return &KnowledgeStore{client: client, indexName: indexName}
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func (s *KnowledgeStore) createIndexIfNotExists(dims int) error {
	res, err := s.client.Indices.Exists([]string{s.indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	defer res.Body.Close()
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", s.indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"id": { "type": "keyword" },
				"title": { "type": "text" },
				"content": { "type": "text" },
				"category": { "type": "keyword" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"model_version": { "type": "keyword" }
			}
		}
	}`, dims)

	createRes, err := s.client.Indices.Create(
		s.indexName,
		s.client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", s.indexName, err)
		return err
	}
	defer createRes.Body.Close()
	if createRes.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", s.indexName, createRes.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", s.indexName)
	return nil
}

// IndexKnowledgeItem 将单个知识条目写入 Elasticsearch，文档 ID 与条目 ID 一致。
func (s *KnowledgeStore) IndexKnowledgeItem(ctx context.Context, doc model.EsKnowledgeDocument) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      s.indexName,
		DocumentID: doc.ID,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("索引知识条目到 Elasticsearch 出错: %s", res.String())
		return fmt.Errorf("failed to index knowledge item %s", doc.ID)
	}
	return nil
}

// SearchKNN 执行近似 kNN 检索，返回带原始向量的候选文档。
func (s *KnowledgeStore) SearchKNN(ctx context.Context, vector []float32, k, numCandidates int) ([]model.EsKnowledgeDocument, error) {
	var buf bytes.Buffer
	esQuery := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              k,
			"num_candidates": numCandidates,
		},
		"size": k,
	}
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.indexName),
		s.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("[KnowledgeStore] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.EsKnowledgeDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	docs := make([]model.EsKnowledgeDocument, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		docs = append(docs, hit.Source)
	}
	return docs, nil
}
