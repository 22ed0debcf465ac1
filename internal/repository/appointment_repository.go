// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"medassist-go/internal/apperr"
	"medassist-go/internal/model"

	"gorm.io/gorm"
)

// AppointmentRepository 定义了对 appointments 表的操作。
// Create 依赖 slot_key 唯一索引保证同一医生同一时段最多一个有效预约。
type AppointmentRepository interface {
	Create(ctx context.Context, appt *model.Appointment) error
	FindByID(ctx context.Context, id string) (*model.Appointment, error)
	// Transition 仅当记录当前为 from 状态时更新为 to，返回更新后的记录。
	Transition(ctx context.Context, id, userID string, from, to model.AppointmentStatus, at time.Time) (*model.Appointment, error)
	ListByUser(ctx context.Context, userID string) ([]model.Appointment, error)
	BookedTimes(ctx context.Context, doctor, date string) ([]string, error)
}

type appointmentRepository struct {
	db *gorm.DB
}

// NewAppointmentRepository 创建一个新的 AppointmentRepository 实例。
func NewAppointmentRepository(db *gorm.DB) AppointmentRepository {
	return &appointmentRepository{db: db}
}

func (r *appointmentRepository) Create(ctx context.Context, appt *model.Appointment) error {
	if appt.Status != model.StatusCancelled {
		key := model.SlotKeyFor(appt.Doctor, appt.Date, appt.Time)
		appt.SlotKey = &key
	}
	err := r.db.WithContext(ctx).Create(appt).Error
	if err == nil {
		return nil
	}
	if isDuplicateKey(err) {
		return apperr.Wrap(apperr.ErrSlotConflict, apperr.KindConflict, apperr.CodeSlotConflict,
			"%s is already booked on %s at %s", appt.Doctor, appt.Date, appt.Time)
	}
	return storeError(err, "create appointment")
}

func (r *appointmentRepository) FindByID(ctx context.Context, id string) (*model.Appointment, error) {
	var appt model.Appointment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&appt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Wrap(apperr.ErrNotFound, apperr.KindNotFound, apperr.CodeNotFound, "appointment %s not found", id)
	}
	if err != nil {
		return nil, storeError(err, "find appointment")
	}
	return &appt, nil
}

func (r *appointmentRepository) Transition(ctx context.Context, id, userID string, from, to model.AppointmentStatus, at time.Time) (*model.Appointment, error) {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": at,
	}
	if to == model.StatusCancelled {
		updates["slot_key"] = nil
	}

	q := r.db.WithContext(ctx).Model(&model.Appointment{}).Where("id = ? AND status = ?", id, from)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return nil, storeError(res.Error, "update appointment status")
	}

	appt, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 1 {
		return appt, nil
	}
	// 未命中条件：区分不存在（含不属于该用户）与非法状态迁移
	if userID != "" && appt.UserID != userID {
		return nil, apperr.Wrap(apperr.ErrNotFound, apperr.KindNotFound, apperr.CodeNotFound, "appointment %s not found", id)
	}
	return nil, apperr.Wrap(apperr.ErrInvalidTransition, apperr.KindConflict, apperr.CodeInvalidTransition,
		"appointment %s is %s and cannot become %s", id, appt.Status, to)
}

func (r *appointmentRepository) ListByUser(ctx context.Context, userID string) ([]model.Appointment, error) {
	var appts []model.Appointment
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		Find(&appts).Error
	if err != nil {
		return nil, storeError(err, "list appointments")
	}
	return appts, nil
}

func (r *appointmentRepository) BookedTimes(ctx context.Context, doctor, date string) ([]string, error) {
	var times []string
	err := r.db.WithContext(ctx).Model(&model.Appointment{}).
		Where("doctor = ? AND date = ? AND status <> ?", doctor, date, model.StatusCancelled).
		Pluck("time", &times).Error
	if err != nil {
		return nil, storeError(err, "query booked slots")
	}
	return times, nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "Duplicate entry")
}

func storeError(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperr.Wrap(err, apperr.KindTimeout, apperr.CodeTimeout, "%s", op)
	}
	return apperr.Upstream(apperr.CodeStoreUnavailable, err, "%s", op)
}
