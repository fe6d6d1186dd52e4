package coerce

import (
	"fmt"
	"time"
)

// ZoneSource supplies the caller's time zone for DateAndTime:UserLocal values.
type ZoneSource interface {
	Location() *time.Location
}

// ZoneFunc adapts a function to ZoneSource.
type ZoneFunc func() *time.Location

// Location implements ZoneSource.
func (f ZoneFunc) Location() *time.Location { return f() }

// FixedZone always returns loc.
func FixedZone(loc *time.Location) ZoneSource {
	return ZoneFunc(func() *time.Location { return loc })
}

// LocalZone reads the process local zone at call time.
var LocalZone ZoneSource = ZoneFunc(func() *time.Location { return time.Local })

// NamedZone loads an IANA zone such as "Europe/London". An empty name
// selects the process local zone.
func NamedZone(name string) (ZoneSource, error) {
	if name == "" {
		return LocalZone, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load time zone %s: %w", name, err)
	}
	return FixedZone(loc), nil
}
