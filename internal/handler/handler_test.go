package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"medassist-go/internal/apperr"
	"medassist-go/internal/config"
	"medassist-go/internal/model"
	"medassist-go/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeParser struct{}

func (fakeParser) Parse(_ context.Context, text string) (*model.ParsedIntent, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.Wrap(apperr.ErrEmptyInput, apperr.KindValidation, apperr.CodeEmptyInput, "text must not be empty")
	}
	return &model.ParsedIntent{PrimaryIntent: model.IntentSymptomReport, Symptoms: []string{"headache"}}, nil
}

type fakeKnowledge struct {
	reloads int
}

func (f *fakeKnowledge) Retrieve(_ context.Context, query string, topK int) ([]model.RetrievalResult, error) {
	return []model.RetrievalResult{{
		Item:            model.KnowledgeItem{ID: "kb_0002", Title: "Headache Management", Content: "Rest.", Category: "treatments", Embedding: []float32{1, 0}},
		SimilarityScore: 0.7,
	}}, nil
}

func (f *fakeKnowledge) Ingest(context.Context, []model.KnowledgeItem) (int, error) { return 0, nil }

func (f *fakeKnowledge) Reload(context.Context) (int, error) {
	f.reloads++
	return 71, nil
}

func (f *fakeKnowledge) SeedFromFile(context.Context, string) (int, error) { return 0, nil }

type fakeBooking struct {
	result *service.BookingResult
	err    error
	got    service.BookingRequest
}

func (f *fakeBooking) Book(context.Context, service.BookingRequest) (*model.Appointment, error) {
	return nil, nil
}
func (f *fakeBooking) CheckAvailability(context.Context, string, string, []config.WorkingHoursRange) ([]string, error) {
	return nil, nil
}
func (f *fakeBooking) Cancel(context.Context, string, string) (*model.Appointment, error) {
	return nil, nil
}
func (f *fakeBooking) Complete(context.Context, string) (*model.Appointment, error) { return nil, nil }
func (f *fakeBooking) List(context.Context, string) ([]model.Appointment, error)    { return nil, nil }

func (f *fakeBooking) Handle(_ context.Context, req service.BookingRequest) (*service.BookingResult, error) {
	f.got = req
	return f.result, f.err
}

func agentRouter(booking *fakeBooking) *gin.Engine {
	h := NewAgentHandler(fakeParser{}, &fakeKnowledge{}, booking)
	r := gin.New()
	r.POST("/parser", h.Parse)
	r.POST("/knowledge", h.Retrieve)
	r.POST("/booking", h.Booking)
	return r
}

func postJSON(t *testing.T, r http.Handler, path, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v (%s)", path, err, w.Body.String())
	}
	return w.Code, out
}

func TestParserAgent(t *testing.T) {
	r := agentRouter(&fakeBooking{})

	code, body := postJSON(t, r, "/parser", `{"text":"my head hurts"}`)
	if code != http.StatusOK || body["primary_intent"] != "symptom_report" {
		t.Fatalf("%d %v", code, body)
	}

	code, body = postJSON(t, r, "/parser", `{"text":"  "}`)
	if code != http.StatusBadRequest || body["code"] != string(apperr.CodeEmptyInput) {
		t.Fatalf("%d %v", code, body)
	}

	code, body = postJSON(t, r, "/parser", `{"text":`)
	if code != http.StatusBadRequest || body["code"] != string(apperr.CodeValidation) {
		t.Fatalf("%d %v", code, body)
	}
}

func TestKnowledgeAgentOmitsEmbeddings(t *testing.T) {
	code, body := postJSON(t, agentRouter(&fakeBooking{}), "/knowledge", `{"query":"What causes headaches?","top_k":3}`)
	if code != http.StatusOK {
		t.Fatalf("%d %v", code, body)
	}
	results := body["results"].([]interface{})
	first := results[0].(map[string]interface{})
	if first["title"] != "Headache Management" || first["similarity_score"] != 0.7 {
		t.Errorf("result = %v", first)
	}
	if _, ok := first["embedding"]; ok {
		t.Error("embedding must not be exposed")
	}
}

func TestBookingAgentResponses(t *testing.T) {
	appt := &model.Appointment{ID: "appt_1", UserID: "u1", Date: "2025-01-11", Time: "14:00", Doctor: "Dr. Smith", Status: model.StatusScheduled}
	cases := []struct {
		name   string
		result *service.BookingResult
		check  func(t *testing.T, body map[string]interface{})
	}{
		{"book", &service.BookingResult{Action: model.ActionBook, Success: true, Message: "scheduled", Appointment: appt},
			func(t *testing.T, body map[string]interface{}) {
				if body["appointment_id"] != "appt_1" || body["success"] != true {
					t.Errorf("body = %v", body)
				}
				if body["appointment"].(map[string]interface{})["status"] != "scheduled" {
					t.Errorf("appointment = %v", body["appointment"])
				}
			}},
		{"availability", &service.BookingResult{Action: model.ActionCheckAvailability, Success: true, Date: "2025-01-11", Doctor: "Dr. Smith"},
			func(t *testing.T, body map[string]interface{}) {
				slots, ok := body["available_slots"].([]interface{})
				if !ok || len(slots) != 0 || body["date"] != "2025-01-11" {
					t.Errorf("body = %v", body)
				}
				if _, ok := body["message"]; ok {
					t.Errorf("plain availability carries no message: %v", body)
				}
			}},
		{"suggestion", &service.BookingResult{Action: model.ActionCheckAvailability, Message: "Please provide a date and time.", Date: "2025-01-11", Doctor: "General Practitioner", AvailableSlots: []string{"09:00"}, SuggestedDate: "2025-01-11"},
			func(t *testing.T, body map[string]interface{}) {
				if body["suggested_date"] != "2025-01-11" || body["success"] != false {
					t.Errorf("body = %v", body)
				}
			}},
		{"cancel", &service.BookingResult{Action: model.ActionCancel, Success: true, Message: "cancelled", Appointment: &model.Appointment{ID: "appt_2", UserID: "user123", Status: model.StatusCancelled}},
			func(t *testing.T, body map[string]interface{}) {
				if body["appointment_id"] != "appt_2" || body["appointment"].(map[string]interface{})["status"] != "cancelled" {
					t.Errorf("body = %v", body)
				}
			}},
		{"list", &service.BookingResult{Action: model.ActionList, Success: true, UserID: "u1"},
			func(t *testing.T, body map[string]interface{}) {
				if body["count"] != float64(0) || body["user_id"] != "u1" {
					t.Errorf("body = %v", body)
				}
				if appts, ok := body["appointments"].([]interface{}); !ok || len(appts) != 0 {
					t.Errorf("appointments = %v", body["appointments"])
				}
			}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := postJSON(t, agentRouter(&fakeBooking{result: tc.result}), "/booking", `{"query":"x"}`)
			if code != http.StatusOK {
				t.Fatalf("%d %v", code, body)
			}
			tc.check(t, body)
		})
	}
}

func TestBookingAgentConflict(t *testing.T) {
	booking := &fakeBooking{
		result: &service.BookingResult{Action: model.ActionBook, Date: "2025-01-11", Doctor: "Dr. Smith", AvailableSlots: []string{"09:00", "14:30"}},
		err:    apperr.New(apperr.KindConflict, apperr.CodeSlotConflict, "Dr. Smith is already booked"),
	}
	code, body := postJSON(t, agentRouter(booking), "/booking",
		`{"query":"book","action":"book","date":"2025-01-11","time":"14:00","doctor":"Dr. Smith","user_id":"u1"}`)
	if code != http.StatusConflict || body["code"] != string(apperr.CodeSlotConflict) {
		t.Fatalf("%d %v", code, body)
	}
	if slots := body["suggested_times"].([]interface{}); len(slots) != 2 || slots[1] != "14:30" {
		t.Errorf("suggested_times = %v", body["suggested_times"])
	}
	if booking.got.Action != model.ActionBook || booking.got.Time != "14:00" || booking.got.UserID != "u1" {
		t.Errorf("request = %+v", booking.got)
	}

	booking.result, booking.err = nil, apperr.New(apperr.KindConflict, apperr.CodeInvalidTransition, "already cancelled")
	code, body = postJSON(t, agentRouter(booking), "/booking", `{"action":"cancel","appointment_id":"appt_1"}`)
	if code != http.StatusConflict || body["code"] != string(apperr.CodeInvalidTransition) {
		t.Fatalf("%d %v", code, body)
	}
	if _, ok := body["suggested_times"]; ok {
		t.Error("invalid transition carries no suggestions")
	}
	if booking.got.Action != model.ActionCancel || booking.got.AppointmentID != "appt_1" || booking.got.UserID != "" {
		t.Errorf("cancel request = %+v", booking.got)
	}
}

type fakeOrchestrator struct {
	resp *service.OrchestrateResponse
	err  error
}

func (f fakeOrchestrator) Handle(context.Context, service.OrchestrateRequest) (*service.OrchestrateResponse, error) {
	return f.resp, f.err
}

func TestOrchestrateEndpoint(t *testing.T) {
	r := gin.New()
	r.POST("/orchestrate", NewOrchestrateHandler(fakeOrchestrator{
		resp: &service.OrchestrateResponse{Response: "Rest well.", AgentCalls: []string{"parser", "knowledge"}},
	}).Orchestrate)
	code, body := postJSON(t, r, "/orchestrate", `{"query":"I have a headache"}`)
	if code != http.StatusOK || body["response"] != "Rest well." {
		t.Fatalf("%d %v", code, body)
	}
	if _, ok := body["error_code"]; ok {
		t.Errorf("error_code should be omitted: %v", body)
	}

	r = gin.New()
	r.POST("/orchestrate", NewOrchestrateHandler(fakeOrchestrator{
		err: apperr.New(apperr.KindTimeout, apperr.CodeTimeout, "request deadline exceeded"),
	}).Orchestrate)
	code, body = postJSON(t, r, "/orchestrate", `{"query":"slow"}`)
	if code != http.StatusGatewayTimeout || body["code"] != string(apperr.CodeTimeout) {
		t.Fatalf("%d %v", code, body)
	}
}

type fakeIngest struct {
	name, category, content string
}

func (f *fakeIngest) Submit(_ context.Context, fileName, category string, r io.Reader, _ int64) (*service.IngestReceipt, error) {
	b, _ := io.ReadAll(r)
	f.name, f.category, f.content = fileName, category, string(b)
	return &service.IngestReceipt{TaskID: "t1", ObjectName: "knowledge/t1/" + fileName}, nil
}

func multipartRequest(t *testing.T, fileName, content, category string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte(content))
	}
	mw.WriteField("category", category)
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/ingest", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestKnowledgeIngestAndReload(t *testing.T) {
	ingest := &fakeIngest{}
	knowledge := &fakeKnowledge{}
	h := NewKnowledgeHandler(ingest, knowledge)
	r := gin.New()
	r.POST("/ingest", h.Ingest)
	r.POST("/reload", h.Reload)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, multipartRequest(t, "corpus.json", `[{"title":"a","content":"b"}]`, "symptoms"))
	if w.Code != http.StatusAccepted || !strings.Contains(w.Body.String(), `"task_id":"t1"`) {
		t.Fatalf("%d %s", w.Code, w.Body.String())
	}
	if ingest.name != "corpus.json" || ingest.category != "symptoms" || !strings.Contains(ingest.content, `"title":"a"`) {
		t.Errorf("submitted = %+v", ingest)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, multipartRequest(t, "", "", "symptoms"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing file: %d", w.Code)
	}

	code, body := postJSON(t, r, "/reload", `{}`)
	if code != http.StatusOK || body["size"] != float64(71) || knowledge.reloads != 1 {
		t.Fatalf("%d %v", code, body)
	}
}

func TestKnowledgeIngestDisabled(t *testing.T) {
	r := gin.New()
	r.POST("/ingest", NewKnowledgeHandler(nil, &fakeKnowledge{}).Ingest)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, multipartRequest(t, "a.json", "[]", ""))
	if w.Code != http.StatusInternalServerError || !strings.Contains(w.Body.String(), string(apperr.CodeUpstreamUnavailable)) {
		t.Fatalf("%d %s", w.Code, w.Body.String())
	}
}
