// Canteend - Theater Canteen Notification and Event Fan-out Service
// Copyright 2026 Canteend Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/theaterops/canteend

package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Settings section names used by the settings registry change bus.
const (
	SectionSMTP     = "smtp"
	SectionSMS      = "sms"
	SectionSchedule = "schedule"
	SectionBranding = "branding"
	SectionStorage  = "storage"
)

// Job names for the five scheduled stock-notification jobs.
const (
	JobExpiringStockCheck = "expiringStockCheck"
	JobExpiredStockCheck  = "expiredStockCheck"
	JobLowStockCheck      = "lowStockCheck"
	JobDailyStockReport   = "dailyStockReport"
	JobStockReport        = "stockReport"
)

// SystemSettings is the single mutable configuration document.
type SystemSettings struct {
	ID        primitive.ObjectID      `json:"id,omitempty" bson:"_id,omitempty"`
	SMTP      SMTPSettings            `json:"smtp" bson:"smtp"`
	SMS       SMSSettings             `json:"sms" bson:"sms"`
	Schedule  map[string]ScheduleSpec `json:"schedule" bson:"schedule"`
	Branding  BrandingSettings        `json:"branding" bson:"branding"`
	Storage   StorageCredentials      `json:"storage" bson:"storage"`
	UpdatedAt time.Time               `json:"updatedAt" bson:"updatedAt"`
}

// SMTPSettings holds the mail relay credentials and from identity.
type SMTPSettings struct {
	Host        string `json:"host" bson:"host"`
	Port        int    `json:"port" bson:"port"`
	Username    string `json:"username" bson:"username"`
	Password    string `json:"password" bson:"password"`
	FromName    string `json:"fromName" bson:"fromName"`
	FromAddress string `json:"fromAddress" bson:"fromAddress"`
	UseTLS      bool   `json:"useTls" bson:"useTls"`
}

// SMSSettings holds the SMS/OTP provider choice and parameters. Dispatch is a
// collaborator concern; Canteend only stores and redacts these.
type SMSSettings struct {
	Provider   string        `json:"provider" bson:"provider"`
	APIKey     string        `json:"apiKey" bson:"apiKey"`
	OTPLength  int           `json:"otpLength" bson:"otpLength"`
	RetryCap   int           `json:"retryCap" bson:"retryCap"`
	OTPTimeout time.Duration `json:"otpTimeout" bson:"otpTimeout"`
}

// ScheduleSpec configures one scheduled job.
type ScheduleSpec struct {
	Enabled bool `json:"enabled" bson:"enabled"`

	// Cron is a 5-field expression: minute hour day-of-month month day-of-week.
	Cron string `json:"cron" bson:"cron"`

	// Timezone is an IANA identifier, e.g. Asia/Kolkata.
	Timezone string `json:"tz" bson:"tz"`

	// IntervalMinutes, when set and Cron is empty, runs the job every N minutes.
	IntervalMinutes int `json:"interval,omitempty" bson:"interval,omitempty"`
}

// BrandingSettings holds branding assets referenced during QR composition.
type BrandingSettings struct {
	AppName         string `json:"appName" bson:"appName"`
	LogoURL         string `json:"logoUrl" bson:"logoUrl"`
	QRBackgroundURL string `json:"qrBackgroundUrl" bson:"qrBackgroundUrl"`
}

// StorageCredentials holds remote-storage credentials for the upload target.
type StorageCredentials struct {
	Provider string `json:"provider" bson:"provider"`
	Bucket   string `json:"bucket" bson:"bucket"`
	KeyJSON  string `json:"keyJson" bson:"keyJson"`
}

// DefaultTimezone applies when a schedule omits its zone.
const DefaultTimezone = "Asia/Kolkata"

// DefaultSchedule returns the hard-coded job schedule used when no persisted
// configuration exists or loading it fails.
//
// dailyStockReport and stockReport intentionally share one job body at two
// schedules; both stay configurable.
func DefaultSchedule() map[string]ScheduleSpec {
	return map[string]ScheduleSpec{
		JobExpiringStockCheck: {Enabled: true, Cron: "0 9 * * *", Timezone: DefaultTimezone},
		JobExpiredStockCheck:  {Enabled: true, Cron: "0 8 * * *", Timezone: DefaultTimezone},
		JobLowStockCheck:      {Enabled: true, Cron: "*/30 * * * *", Timezone: DefaultTimezone, IntervalMinutes: 30},
		JobDailyStockReport:   {Enabled: true, Cron: "0 22 * * *", Timezone: DefaultTimezone},
		JobStockReport:        {Enabled: true, Cron: "0 20 * * *", Timezone: DefaultTimezone},
	}
}

// DefaultSystemSettings seeds the settings document on first boot.
func DefaultSystemSettings() *SystemSettings {
	return &SystemSettings{
		SMTP: SMTPSettings{
			Port:     587,
			FromName: "Canteend",
			UseTLS:   true,
		},
		SMS: SMSSettings{
			OTPLength:  6,
			RetryCap:   3,
			OTPTimeout: 5 * time.Minute,
		},
		Schedule: DefaultSchedule(),
		Branding: BrandingSettings{
			AppName: "Canteend",
		},
		UpdatedAt: time.Now().UTC(),
	}
}
