// internal/catalog/catalog.go

// Package catalog holds the static notification kind definitions: canonical
// ids, legacy aliases, default daily schedules, reference-date rules, and
// message templates. The catalog is built once at process start and is
// immutable afterwards; runtime schedule overrides live in the settings
// package.
package catalog

import (
	"fmt"
	"time"

	"notify-engine/internal/models"
)

// Calendar statuses the daily kinds filter on.
const (
	AppointmentAvailable = "Available"
	AppointmentCompleted = "Completed"
)

// Schedule is a kind's default daily trigger time.
type Schedule struct {
	Enabled  bool
	SendTime string // 24-hour HH:MM
	Timezone string
}

// Kind is one immutable catalog entry.
type Kind struct {
	ID              string
	Aliases         []string
	DisplayName     string
	Description     string
	DefaultSchedule Schedule
	DailyTriggered  bool
	CampaignOnly    bool

	// ReferenceOffsetDays is added to today's local date to obtain the
	// kind's reference date (+1 = tomorrow, -1 = yesterday).
	ReferenceOffsetDays int
	// CalendarStatus filters the calendar query for daily kinds.
	CalendarStatus string
}

// Template is the message content for a kind.
type Template struct {
	Body           map[string]string // language -> body with {{placeholder}} slots
	RequiredParams []string
	MaxLength      int
}

// Catalog is the lookup table for kinds and templates.
type Catalog struct {
	kinds      map[string]Kind
	aliasIndex map[string]string
	templates  map[string]Template
	defaultTZ  string
}

// Canonical kind ids.
const (
	KindReminder24h    = "reminder_24h"
	KindFeedbackReq    = "feedback_request"
	KindFollowup20d    = "followup_20d"
	KindCampaignPromo  = "campaign_promo"
	DefaultMaxLength   = 640
	DefaultLanguage    = "en"
)

// New builds the catalog with the built-in kinds. defaultTimezone is used
// for kinds without an explicit zone.
func New(defaultTimezone string) *Catalog {
	c := &Catalog{
		kinds:      make(map[string]Kind),
		aliasIndex: make(map[string]string),
		templates:  make(map[string]Template),
		defaultTZ:  defaultTimezone,
	}

	c.register(Kind{
		ID:                  KindReminder24h,
		Aliases:             []string{"appointment_reminder", "reminder24"},
		DisplayName:         "24-hour reminder",
		Description:         "Reminds customers of tomorrow's appointment",
		DefaultSchedule:     Schedule{Enabled: true, SendTime: "15:00", Timezone: defaultTimezone},
		DailyTriggered:      true,
		ReferenceOffsetDays: 1,
		CalendarStatus:      AppointmentAvailable,
	}, Template{
		Body: map[string]string{
			"en": "Hi {{name}}, this is a reminder of your {{service}} appointment on {{date}} at {{time}} ({{branch}}). Reply CANCEL to cancel.",
			"ar": "مرحبا {{name}}، نذكرك بموعد {{service}} بتاريخ {{date}} الساعة {{time}} ({{branch}}).",
		},
		RequiredParams: []string{"name", "date", "time"},
		MaxLength:      DefaultMaxLength,
	})

	c.register(Kind{
		ID:                  KindFeedbackReq,
		Aliases:             []string{"feedback", "post_visit_feedback"},
		DisplayName:         "Feedback request",
		Description:         "Asks for feedback the day after a completed visit",
		DefaultSchedule:     Schedule{Enabled: true, SendTime: "11:00", Timezone: defaultTimezone},
		DailyTriggered:      true,
		ReferenceOffsetDays: -1,
		CalendarStatus:      AppointmentCompleted,
	}, Template{
		Body: map[string]string{
			"en": "Hi {{name}}, thank you for visiting us yesterday. How was your {{service}} experience? We'd love to hear from you.",
		},
		RequiredParams: []string{"name"},
		MaxLength:      DefaultMaxLength,
	})

	c.register(Kind{
		ID:                  KindFollowup20d,
		Aliases:             []string{"followup", "recall_20d"},
		DisplayName:         "20-day follow-up",
		Description:         "Long-horizon follow-up after a completed visit",
		DefaultSchedule:     Schedule{Enabled: true, SendTime: "10:00", Timezone: defaultTimezone},
		DailyTriggered:      true,
		ReferenceOffsetDays: -20,
		CalendarStatus:      AppointmentCompleted,
	}, Template{
		Body: map[string]string{
			"en": "Hi {{name}}, it's been a while since your last {{service}} visit. Book your next appointment and keep the results going!",
		},
		RequiredParams: []string{"name"},
		MaxLength:      DefaultMaxLength,
	})

	c.register(Kind{
		ID:              KindCampaignPromo,
		Aliases:         []string{"promo"},
		DisplayName:     "Promotional campaign",
		Description:     "Ad-hoc bulk campaign message",
		DefaultSchedule: Schedule{Enabled: false, SendTime: "12:00", Timezone: defaultTimezone},
		CampaignOnly:    true,
	}, Template{
		Body: map[string]string{
			"en": "Hi {{name}}, {{offer}}",
		},
		RequiredParams: []string{"offer"},
		MaxLength:      DefaultMaxLength,
	})

	return c
}

func (c *Catalog) register(k Kind, t Template) {
	c.kinds[k.ID] = k
	c.aliasIndex[k.ID] = k.ID
	for _, a := range k.Aliases {
		c.aliasIndex[a] = k.ID
	}
	c.templates[k.ID] = t
}

// Canonicalize resolves a possibly-legacy kind id to its canonical id.
// Two alias spellings of the same kind always resolve identically, which is
// what keeps dedup lookups consistent.
func (c *Catalog) Canonicalize(id string) (string, bool) {
	canonical, ok := c.aliasIndex[id]
	return canonical, ok
}

// Get returns the kind for an id or alias.
func (c *Catalog) Get(id string) (Kind, bool) {
	canonical, ok := c.aliasIndex[id]
	if !ok {
		return Kind{}, false
	}
	k, ok := c.kinds[canonical]
	return k, ok
}

// Template returns the message template for an id or alias.
func (c *Catalog) Template(id string) (Template, bool) {
	canonical, ok := c.aliasIndex[id]
	if !ok {
		return Template{}, false
	}
	t, ok := c.templates[canonical]
	return t, ok
}

// Body returns the template body for a language, falling back to the
// default language.
func (t Template) BodyFor(language string) string {
	if body, ok := t.Body[language]; ok {
		return body
	}
	return t.Body[DefaultLanguage]
}

// DailyKinds returns the kinds the daily trigger scheduler manages.
func (c *Catalog) DailyKinds() []Kind {
	out := make([]Kind, 0, len(c.kinds))
	for _, k := range c.kinds {
		if k.DailyTriggered {
			out = append(out, k)
		}
	}
	return out
}

// Kinds returns every catalog entry.
func (c *Catalog) Kinds() []Kind {
	out := make([]Kind, 0, len(c.kinds))
	for _, k := range c.kinds {
		out = append(out, k)
	}
	return out
}

// ReferenceDate computes the kind's reference date for a trigger running on
// localDate (the local calendar date in the kind's zone).
func (c *Catalog) ReferenceDate(k Kind, localDate time.Time) string {
	return localDate.AddDate(0, 0, k.ReferenceOffsetDays).Format("2006-01-02")
}

// DefaultScheduleFor returns the kind's default schedule as the mutable
// settings entity, used for lazy creation of overrides.
func (c *Catalog) DefaultScheduleFor(id string) (models.KindSchedule, error) {
	k, ok := c.Get(id)
	if !ok {
		return models.KindSchedule{}, fmt.Errorf("unknown kind: %s", id)
	}
	return models.KindSchedule{
		KindID:   k.ID,
		Enabled:  k.DefaultSchedule.Enabled,
		SendTime: k.DefaultSchedule.SendTime,
		Timezone: k.DefaultSchedule.Timezone,
	}, nil
}
