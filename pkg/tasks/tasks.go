// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import (
	"strings"
	"time"
)

// KnowledgeIngestTask 描述一次知识库导入：对象存储中的一个文件，
// 可以是 JSON 语料（[]KnowledgeItem）或需经 Tika 抽取文本的文档。
type KnowledgeIngestTask struct {
	TaskID      string    `json:"task_id"`
	ObjectName  string    `json:"object_name"`
	FileName    string    `json:"file_name"`
	Category    string    `json:"category"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// IsCorpus 判断文件是否为 JSON 语料。
func (t KnowledgeIngestTask) IsCorpus() bool {
	return strings.HasSuffix(strings.ToLower(t.FileName), ".json")
}
