package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"medassist-go/pkg/tasks"

	"github.com/segmentio/kafka-go"
)

type fakeReader struct {
	msgs      []kafka.Message
	committed []int64
	closed    bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(f.msgs) == 0 {
		return kafka.Message{}, context.Canceled
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	return m, nil
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

type memAttempts struct {
	counts map[string]int64
}

func (m *memAttempts) Incr(_ context.Context, id string) (int64, error) {
	m.counts[id]++
	return m.counts[id], nil
}

func (m *memAttempts) Reset(_ context.Context, id string) { delete(m.counts, id) }

type stubProcessor struct {
	fail map[string]bool
	seen []string
}

func (p *stubProcessor) Process(_ context.Context, task tasks.KnowledgeIngestTask) error {
	p.seen = append(p.seen, task.TaskID)
	if p.fail[task.TaskID] {
		return errors.New("extract failed")
	}
	return nil
}

func msg(t *testing.T, offset int64, task tasks.KnowledgeIngestTask) kafka.Message {
	t.Helper()
	b, err := json.Marshal(task)
	if err != nil {
		t.Fatal(err)
	}
	return kafka.Message{Offset: offset, Value: b}
}

func TestConsumeCommitsSuccessAndMalformed(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{
		msg(t, 1, tasks.KnowledgeIngestTask{TaskID: "t1", FileName: "a.json"}),
		{Offset: 2, Value: []byte("not json")},
	}}
	p := &stubProcessor{}
	consume(context.Background(), r, p, &memAttempts{counts: map[string]int64{}})

	if len(r.committed) != 2 || r.committed[0] != 1 || r.committed[1] != 2 {
		t.Fatalf("committed = %v", r.committed)
	}
	if len(p.seen) != 1 || !r.closed {
		t.Fatalf("seen = %v closed = %v", p.seen, r.closed)
	}
}

func TestConsumeGivesUpAfterMaxAttempts(t *testing.T) {
	task := tasks.KnowledgeIngestTask{TaskID: "bad", FileName: "a.pdf"}
	r := &fakeReader{msgs: []kafka.Message{msg(t, 7, task), msg(t, 7, task), msg(t, 7, task)}}
	attempts := &memAttempts{counts: map[string]int64{}}
	consume(context.Background(), r, &stubProcessor{fail: map[string]bool{"bad": true}}, attempts)

	if len(r.committed) != 1 || r.committed[0] != 7 {
		t.Fatalf("committed = %v, want only the third failure", r.committed)
	}
	if attempts.counts["bad"] != maxAttempts {
		t.Fatalf("attempts = %d", attempts.counts["bad"])
	}
}

func TestIngestTaskIsCorpus(t *testing.T) {
	if !(tasks.KnowledgeIngestTask{FileName: "Corpus.JSON"}).IsCorpus() {
		t.Error("json file should be a corpus")
	}
	if (tasks.KnowledgeIngestTask{FileName: "guide.pdf"}).IsCorpus() {
		t.Error("pdf is not a corpus")
	}
}
