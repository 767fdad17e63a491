// Package models contains the database model definitions.
package models

import (
	"time"

	"github.com/bbernstein/hyperion-link-go/internal/services/zone"
)

// LinkEntry is a finished setup: one Hyperion server and the lights it drives.
// Table: link_entries
type LinkEntry struct {
	ID        string `gorm:"column:id;primaryKey" json:"id"`
	Hostname  string `gorm:"column:hostname;index" json:"hostname"`
	IPAddr    string `gorm:"column:ip_addr" json:"ip_addr"`
	Port      int    `gorm:"column:port" json:"port"`
	AccessKey string `gorm:"column:access_key" json:"-"` // stored, not used

	Lights        zone.Assignment `gorm:"column:lights;serializer:json" json:"lights"`
	LEDAssignment zone.Weights    `gorm:"column:led_assignment;serializer:json" json:"led_assignment"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (LinkEntry) TableName() string { return "link_entries" }

// Connection returns the entry's connection settings.
func (e *LinkEntry) Connection() zone.ConnectionConfig {
	return zone.ConnectionConfig{Host: e.IPAddr, Port: e.Port, AccessKey: e.AccessKey}
}

// NewLinkEntry converts a finished setup into a record ready to be created.
func NewLinkEntry(cfg zone.FinishedConfig) *LinkEntry {
	return &LinkEntry{
		Hostname:      cfg.Hostname,
		IPAddr:        cfg.Connection.Host,
		Port:          cfg.Connection.Port,
		AccessKey:     cfg.Connection.AccessKey,
		Lights:        cfg.Lights.Normalize(),
		LEDAssignment: cfg.LEDAssignment,
	}
}

// Setting represents a system setting.
// Table: settings
type Setting struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Key       string    `gorm:"column:key;uniqueIndex"`
	Value     string    `gorm:"column:value"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Setting) TableName() string { return "settings" }

// All returns every model for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&LinkEntry{},
		&Setting{},
	}
}
