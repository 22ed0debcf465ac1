package model

import "time"

// AppointmentStatus 是预约状态机的状态。scheduled 为初始态，其余为终态。
type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

// Appointment 对应 appointments 表。记录从不删除。
// SlotKey 在非取消状态下为 doctor|date|time，取消后置 NULL，唯一索引保证同一时段只有一个有效预约。
type Appointment struct {
	ID        string            `gorm:"primaryKey;type:varchar(64)" json:"appointment_id"`
	UserID    string            `gorm:"type:varchar(128);not null;index" json:"user_id"`
	Date      string            `gorm:"type:char(10);not null;index:idx_appointments_doctor_date,priority:2" json:"date"`
	Time      string            `gorm:"type:char(5);not null" json:"time"`
	Doctor    string            `gorm:"type:varchar(128);not null;index:idx_appointments_doctor_date,priority:1" json:"doctor"`
	Reason    string            `gorm:"type:text" json:"reason"`
	Status    AppointmentStatus `gorm:"type:varchar(16);not null" json:"status"`
	SlotKey   *string           `gorm:"type:varchar(191);uniqueIndex:uk_appointments_slot" json:"-"`
	CreatedAt time.Time         `gorm:"precision:6" json:"created_at"`
	UpdatedAt time.Time         `gorm:"precision:6" json:"updated_at"`
}

func (Appointment) TableName() string {
	return "appointments"
}

// SlotKeyFor 构造时段唯一键。
func SlotKeyFor(doctor, date, timeOfDay string) string {
	return doctor + "|" + date + "|" + timeOfDay
}

// BookingAction 是 booking agent 支持的操作。
type BookingAction string

const (
	ActionBook              BookingAction = "book"
	ActionCheckAvailability BookingAction = "check_availability"
	ActionCancel            BookingAction = "cancel"
	ActionList              BookingAction = "list"
)

// Valid 判断是否为已知操作。
func (a BookingAction) Valid() bool {
	switch a {
	case ActionBook, ActionCheckAvailability, ActionCancel, ActionList:
		return true
	}
	return false
}
