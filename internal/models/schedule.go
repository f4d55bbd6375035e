// internal/models/schedule.go
package models

// KindSchedule is the mutable override of a kind's daily trigger time.
// SendTime is 24-hour HH:MM; Timezone must resolve to a valid IANA zone.
type KindSchedule struct {
	KindID   string `json:"kindId"`
	Enabled  bool   `json:"enabled"`
	SendTime string `json:"sendTime"`
	Timezone string `json:"timezone"`
}
