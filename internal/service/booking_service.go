package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"medassist-go/internal/apperr"
	"medassist-go/internal/config"
	"medassist-go/internal/model"
	"medassist-go/internal/repository"
	"medassist-go/pkg/log"

	"github.com/google/uuid"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// DefaultWorkingHours 为 09:00-12:00 与 13:00-16:30，按 30 分钟切分后即 09:00…11:30 与 13:00…16:00。
var DefaultWorkingHours = []config.WorkingHoursRange{
	{Start: "09:00", End: "12:00"},
	{Start: "13:00", End: "16:30"},
}

// BookingService 定义了预约状态机的操作。
type BookingService interface {
	Book(ctx context.Context, req BookingRequest) (*model.Appointment, error)
	// CheckAvailability 的 workingHours 为空时使用配置的工作时段。
	CheckAvailability(ctx context.Context, date, doctor string, workingHours []config.WorkingHoursRange) ([]string, error)
	Cancel(ctx context.Context, appointmentID, userID string) (*model.Appointment, error)
	Complete(ctx context.Context, appointmentID string) (*model.Appointment, error)
	List(ctx context.Context, userID string) ([]model.Appointment, error)
	// Handle 根据 req.Action（为空时从 Query 推断）分派到具体操作。
	Handle(ctx context.Context, req BookingRequest) (*BookingResult, error)
}

// BookingResult 是 Handle 的输出，按 Action 填充对应字段。
type BookingResult struct {
	Action         model.BookingAction
	Success        bool
	Message        string
	Appointment    *model.Appointment
	Date           string
	Doctor         string
	AvailableSlots []string
	UserID         string
	Appointments   []model.Appointment
	SuggestedDate  string
}

// 缺少日期或时间时最多返回的建议时段数。
const maxSuggestedSlots = 10

// BookingOptions 配置预约服务，零值字段使用默认值。
type BookingOptions struct {
	DefaultDoctor string
	DefaultUser   string
	SlotMinutes   int
	WorkingHours  []config.WorkingHoursRange
	Now           func() time.Time
}

type bookingService struct {
	repo repository.AppointmentRepository
	opts BookingOptions
}

// NewBookingService 创建一个新的 BookingService 实例。
func NewBookingService(repo repository.AppointmentRepository, opts BookingOptions) BookingService {
	if opts.DefaultDoctor == "" {
		opts.DefaultDoctor = "General Practitioner"
	}
	if opts.DefaultUser == "" {
		opts.DefaultUser = "default_user"
	}
	if opts.SlotMinutes <= 0 {
		opts.SlotMinutes = 30
	}
	if len(opts.WorkingHours) == 0 {
		opts.WorkingHours = DefaultWorkingHours
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &bookingService{repo: repo, opts: opts}
}

// Book 创建一条 scheduled 状态的预约。同一医生同一时段已被占用时返回 SlotConflict。
func (s *bookingService) Book(ctx context.Context, req BookingRequest) (*model.Appointment, error) {
	if err := validateDate(req.Date); err != nil {
		return nil, err
	}
	if err := validateTime(req.Time); err != nil {
		return nil, err
	}
	doctor := strings.TrimSpace(req.Doctor)
	if doctor == "" {
		return nil, apperr.Validation("doctor is required")
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = s.opts.DefaultUser
	}

	now := s.opts.Now()
	appt := &model.Appointment{
		ID:        newAppointmentID(now),
		UserID:    userID,
		Date:      req.Date,
		Time:      req.Time,
		Doctor:    doctor,
		Reason:    req.Reason,
		Status:    model.StatusScheduled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, appt); err != nil {
		log.Warnf("[BookingService] 预约失败, doctor: %s, date: %s, time: %s, error: %v", doctor, req.Date, req.Time, err)
		return nil, err
	}
	log.Infof("[BookingService] 预约成功, id: %s, user: %s, doctor: %s, %s %s", appt.ID, userID, doctor, appt.Date, appt.Time)
	return appt, nil
}

// CheckAvailability 返回指定日期的空闲时段，按时间先后排序。
func (s *bookingService) CheckAvailability(ctx context.Context, date, doctor string, workingHours []config.WorkingHoursRange) ([]string, error) {
	if err := validateDate(date); err != nil {
		return nil, err
	}
	doctor = strings.TrimSpace(doctor)
	if doctor == "" {
		doctor = s.opts.DefaultDoctor
	}
	if len(workingHours) == 0 {
		workingHours = s.opts.WorkingHours
	}
	grid, err := SlotGrid(workingHours, s.opts.SlotMinutes)
	if err != nil {
		return nil, err
	}
	booked, err := s.repo.BookedTimes(ctx, doctor, date)
	if err != nil {
		return nil, err
	}
	taken := make(map[string]struct{}, len(booked))
	for _, t := range booked {
		taken[t] = struct{}{}
	}
	free := make([]string, 0, len(grid))
	for _, slot := range grid {
		if _, ok := taken[slot]; !ok {
			free = append(free, slot)
		}
	}
	return free, nil
}

// Cancel 将 scheduled 预约置为 cancelled 并释放时段。userID 非空时只允许取消本人的预约。
func (s *bookingService) Cancel(ctx context.Context, appointmentID, userID string) (*model.Appointment, error) {
	if strings.TrimSpace(appointmentID) == "" {
		return nil, apperr.Validation("appointment_id is required")
	}
	appt, err := s.repo.Transition(ctx, appointmentID, userID, model.StatusScheduled, model.StatusCancelled, s.opts.Now())
	if err != nil {
		return nil, err
	}
	log.Infof("[BookingService] 预约已取消, id: %s", appointmentID)
	return appt, nil
}

// Complete 将 scheduled 预约置为 completed。
func (s *bookingService) Complete(ctx context.Context, appointmentID string) (*model.Appointment, error) {
	if strings.TrimSpace(appointmentID) == "" {
		return nil, apperr.Validation("appointment_id is required")
	}
	return s.repo.Transition(ctx, appointmentID, "", model.StatusScheduled, model.StatusCompleted, s.opts.Now())
}

// List 返回用户的全部预约（含已取消），按创建时间倒序。
func (s *bookingService) List(ctx context.Context, userID string) ([]model.Appointment, error) {
	if strings.TrimSpace(userID) == "" {
		userID = s.opts.DefaultUser
	}
	return s.repo.ListByUser(ctx, userID)
}

func (s *bookingService) Handle(ctx context.Context, req BookingRequest) (*BookingResult, error) {
	if req.Action != "" && !req.Action.Valid() {
		return nil, apperr.Validation("unknown booking action %q", req.Action)
	}
	req = ExtractBookingRequest(req, s.opts.Now())
	// 默认用户只用于 book 与 list，取消时空 user_id 表示不校验归属
	req.UserID = strings.TrimSpace(req.UserID)
	req.Doctor = strings.TrimSpace(req.Doctor)
	if req.Doctor == "" {
		req.Doctor = s.opts.DefaultDoctor
	}

	switch req.Action {
	case model.ActionBook:
		if req.Date == "" || req.Time == "" {
			return s.suggest(ctx, req)
		}
		appt, err := s.Book(ctx, req)
		if errors.Is(err, apperr.ErrSlotConflict) {
			// 冲突时附带当天仍可预约的时段，结果与错误一并返回
			conflict := &BookingResult{
				Action:  model.ActionBook,
				Message: fmt.Sprintf("%s is not available at %s on %s", req.Doctor, req.Time, req.Date),
				Date:    req.Date,
				Doctor:  req.Doctor,
			}
			if slots, serr := s.CheckAvailability(ctx, req.Date, req.Doctor, nil); serr == nil {
				conflict.AvailableSlots = slots
			}
			return conflict, err
		}
		if err != nil {
			return nil, err
		}
		return &BookingResult{
			Action:      model.ActionBook,
			Success:     true,
			Message:     fmt.Sprintf("Appointment scheduled for %s at %s with %s", appt.Date, appt.Time, appt.Doctor),
			Appointment: appt,
		}, nil

	case model.ActionCancel:
		appt, err := s.Cancel(ctx, req.AppointmentID, req.UserID)
		if err != nil {
			return nil, err
		}
		return &BookingResult{
			Action:      model.ActionCancel,
			Success:     true,
			Message:     fmt.Sprintf("Appointment %s has been cancelled", appt.ID),
			Appointment: appt,
		}, nil

	case model.ActionList:
		if req.UserID == "" {
			req.UserID = s.opts.DefaultUser
		}
		appts, err := s.List(ctx, req.UserID)
		if err != nil {
			return nil, err
		}
		return &BookingResult{Action: model.ActionList, Success: true, UserID: req.UserID, Appointments: appts}, nil

	default:
		if req.Date == "" {
			req.Date = s.opts.Now().AddDate(0, 0, 1).Format(dateLayout)
		}
		slots, err := s.CheckAvailability(ctx, req.Date, req.Doctor, nil)
		if err != nil {
			return nil, err
		}
		return &BookingResult{
			Action:         model.ActionCheckAvailability,
			Success:        true,
			Date:           req.Date,
			Doctor:         req.Doctor,
			AvailableSlots: slots,
		}, nil
	}
}

// suggest 在缺少日期或时间时返回可选时段（默认明天）。
func (s *bookingService) suggest(ctx context.Context, req BookingRequest) (*BookingResult, error) {
	date := req.Date
	if date == "" {
		date = s.opts.Now().AddDate(0, 0, 1).Format(dateLayout)
	}
	slots, err := s.CheckAvailability(ctx, date, req.Doctor, nil)
	if err != nil {
		return nil, err
	}
	if len(slots) > maxSuggestedSlots {
		slots = slots[:maxSuggestedSlots]
	}
	return &BookingResult{
		Action:         model.ActionCheckAvailability,
		Success:        false,
		Message:        fmt.Sprintf("Please provide a date and time. Available slots on %s are listed.", date),
		Date:           date,
		Doctor:         req.Doctor,
		AvailableSlots: slots,
		SuggestedDate:  date,
	}, nil
}

// SlotGrid 按 slotMinutes 切分工作时段，每个区间为 [Start, End)。
func SlotGrid(ranges []config.WorkingHoursRange, slotMinutes int) ([]string, error) {
	if slotMinutes <= 0 {
		return nil, apperr.Validation("slot minutes must be positive")
	}
	var slots []string
	for _, r := range ranges {
		start, err := time.Parse(timeLayout, r.Start)
		if err != nil {
			return nil, apperr.Validation("invalid working hours start %q", r.Start)
		}
		end, err := time.Parse(timeLayout, r.End)
		if err != nil {
			return nil, apperr.Validation("invalid working hours end %q", r.End)
		}
		for t := start; t.Before(end); t = t.Add(time.Duration(slotMinutes) * time.Minute) {
			slots = append(slots, t.Format(timeLayout))
		}
	}
	return slots, nil
}

func validateDate(date string) error {
	if len(date) != len(dateLayout) {
		return apperr.Validation("date must be YYYY-MM-DD, got %q", date)
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return apperr.Validation("date must be YYYY-MM-DD, got %q", date)
	}
	return nil
}

func validateTime(t string) error {
	if len(t) != len(timeLayout) {
		return apperr.Validation("time must be HH:MM, got %q", t)
	}
	if _, err := time.Parse(timeLayout, t); err != nil {
		return apperr.Validation("time must be HH:MM, got %q", t)
	}
	return nil
}

func newAppointmentID(now time.Time) string {
	return fmt.Sprintf("appt_%s_%s", now.Format("20060102150405"), strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
