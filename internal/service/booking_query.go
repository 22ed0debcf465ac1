package service

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"medassist-go/internal/model"
)

var (
	bookingKeywords = regexp.MustCompile(`\b(?:book|booking|schedule|reschedule|appointments?|cancel|availability|available|slots?)\b`)
	cancelKeywords  = regexp.MustCompile(`\bcancel\b`)
	listKeywords    = regexp.MustCompile(`\b(?:list|show|view|my appointments|upcoming appointments)\b`)
	availKeywords   = regexp.MustCompile(`\b(?:available|availability|free slots?|open slots?|openings?)\b`)
	bookKeywords    = regexp.MustCompile(`\b(?:book|schedule|set up|setup|reserve|make an appointment)\b`)
	isoDatePattern  = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	clockPattern    = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\s*(am|pm)?\b`)
	meridiemPattern = regexp.MustCompile(`\b(1[0-2]|0?[1-9])\s*(am|pm)\b`)
	doctorPattern   = regexp.MustCompile(`(?i)\bdr\.?\s+([a-z][a-z'-]+)`)
	apptIDPattern   = regexp.MustCompile(`\bappt_[A-Za-z0-9_]+\b`)
)

// BookingRequest 是 booking agent 的输入。Action 为空时由 Query 推断。
type BookingRequest struct {
	Query         string              `json:"query"`
	Action        model.BookingAction `json:"action,omitempty"`
	Date          string              `json:"date,omitempty"`
	Time          string              `json:"time,omitempty"`
	UserID        string              `json:"user_id,omitempty"`
	Doctor        string              `json:"doctor,omitempty"`
	Reason        string              `json:"reason,omitempty"`
	AppointmentID string              `json:"appointment_id,omitempty"`
}

// IsBookingQuery 判断文本是否涉及预约事务。
func IsBookingQuery(text string) bool {
	return bookingKeywords.MatchString(strings.ToLower(text))
}

// InferAction 从自然语言中推断预约操作，无法判断时默认查询可用时段。
func InferAction(query string) model.BookingAction {
	q := strings.ToLower(query)
	switch {
	case cancelKeywords.MatchString(q):
		return model.ActionCancel
	case availKeywords.MatchString(q):
		return model.ActionCheckAvailability
	case listKeywords.MatchString(q):
		return model.ActionList
	case bookKeywords.MatchString(q):
		return model.ActionBook
	default:
		return model.ActionCheckAvailability
	}
}

// ExtractBookingRequest 从查询文本中补全缺失的字段，已显式给出的字段不会被覆盖。
func ExtractBookingRequest(req BookingRequest, now time.Time) BookingRequest {
	q := req.Query
	lower := strings.ToLower(q)
	if req.Action == "" {
		req.Action = InferAction(q)
	}
	if req.Date == "" {
		req.Date = extractDate(lower, now)
	}
	if req.Time == "" {
		req.Time = extractTime(lower)
	}
	if req.Doctor == "" {
		if m := doctorPattern.FindStringSubmatch(q); m != nil {
			req.Doctor = "Dr. " + strings.ToUpper(m[1][:1]) + strings.ToLower(m[1][1:])
		}
	}
	if req.AppointmentID == "" {
		req.AppointmentID = apptIDPattern.FindString(q)
	}
	return req
}

func extractDate(lower string, now time.Time) string {
	if m := isoDatePattern.FindStringSubmatch(lower); m != nil {
		return m[1]
	}
	switch {
	case strings.Contains(lower, "day after tomorrow"):
		return now.AddDate(0, 0, 2).Format(dateLayout)
	case strings.Contains(lower, "tomorrow"):
		return now.AddDate(0, 0, 1).Format(dateLayout)
	case strings.Contains(lower, "today"):
		return now.Format(dateLayout)
	}
	return ""
}

func extractTime(lower string) string {
	if m := clockPattern.FindStringSubmatch(lower); m != nil {
		h, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		return to24h(h, mm, m[3])
	}
	if m := meridiemPattern.FindStringSubmatch(lower); m != nil {
		h, _ := strconv.Atoi(m[1])
		return to24h(h, 0, m[2])
	}
	return ""
}

func to24h(h, m int, meridiem string) string {
	switch meridiem {
	case "pm":
		if h < 12 {
			h += 12
		}
	case "am":
		if h == 12 {
			h = 0
		}
	}
	return fmt.Sprintf("%02d:%02d", h, m)
}
